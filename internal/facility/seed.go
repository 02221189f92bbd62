package facility

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"emergency-admission/internal/models"
)

// LoadSeedFile reads facilities from a YAML document with a top-level
// "facilities" list. Used to prime the directory before the first refresh.
func LoadSeedFile(path string) ([]models.FacilityRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facility seed: %w", err)
	}

	var doc struct {
		Facilities []models.FacilityRecord `yaml:"facilities"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse facility seed: %w", err)
	}

	seen := make(map[string]bool, len(doc.Facilities))
	for _, f := range doc.Facilities {
		if f.ID == "" {
			return nil, fmt.Errorf("facility seed: entry without id")
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("facility seed: duplicate id %s", f.ID)
		}
		seen[f.ID] = true
	}
	return doc.Facilities, nil
}

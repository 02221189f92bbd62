package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergency-admission/internal/models"
)

func TestValidateSubmission(t *testing.T) {
	tests := []struct {
		name  string
		sub   models.Submission
		valid bool
		field string
	}{
		{
			name:  "complete submission",
			sub:   models.Submission{Description: "chest pain", Category: "heart-attack", AgeBracket: "adult", TransportMode: "ambulance", Location: &models.GeoPoint{Latitude: 18, Longitude: -76.8}, ArrivedAt: time.Now()},
			valid: true,
		},
		{
			name:  "category only",
			sub:   models.Submission{Category: "fall"},
			valid: true,
		},
		{
			name:  "unknown transport mode",
			sub:   models.Submission{Category: "fall", TransportMode: "helicopter"},
			field: "transportMode",
		},
		{
			name:  "latitude out of range",
			sub:   models.Submission{Category: "fall", Location: &models.GeoPoint{Latitude: 95, Longitude: 0}},
			field: "location.latitude",
		},
		{
			name:  "no clinical information",
			sub:   models.Submission{Locality: "kingston"},
			field: "(root)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ValidateSubmission(tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid, res.Summary())
			if tt.field != "" {
				require.NotEmpty(t, res.Errors)
				assert.Equal(t, tt.field, res.Errors[0].Field)
			}
		})
	}
}

// internal/models/tier.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the ordinal urgency class. Higher values are more urgent.
type Tier int

const (
	TierUnknown Tier = iota
	TierLow
	TierModerate
	TierHigh
	TierCritical
)

var tierNames = map[Tier]string{
	TierLow:      "low",
	TierModerate: "moderate",
	TierHigh:     "high",
	TierCritical: "critical",
}

// AllTiers lists tiers from most to least urgent.
var AllTiers = []Tier{TierCritical, TierHigh, TierModerate, TierLow}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t Tier) Valid() bool {
	return t >= TierLow && t <= TierCritical
}

// ParseTier accepts tier names case-insensitively ("Critical", "medium" is an alias of moderate).
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return TierCritical, nil
	case "high":
		return TierHigh, nil
	case "moderate", "medium":
		return TierModerate, nil
	case "low":
		return TierLow, nil
	default:
		return TierUnknown, fmt.Errorf("unknown tier %q", s)
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MaxWait returns the tolerable wait for the tier from a table keyed by tier
// name in seconds, falling back to the built-in bounds.
func (t Tier) MaxWait(table map[string]int) time.Duration {
	if secs, ok := table[t.String()]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	switch t {
	case TierCritical:
		return 5 * time.Minute
	case TierHigh:
		return 15 * time.Minute
	case TierModerate:
		return time.Hour
	default:
		return 4 * time.Hour
	}
}

package spool

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// Tier is one snapshot retention tier.
type Tier string

const (
	Daily   Tier = "daily"
	Weekly  Tier = "weekly"
	Monthly Tier = "monthly"
)

var tierToString = map[Tier]string{
	Daily:   "daily",
	Weekly:  "weekly",
	Monthly: "monthly",
}

var stringToTier map[string]Tier

func init() {
	stringToTier = util.InvertMap(tierToString)
}

// Tiers returns all tiers coarsest first, which is the order rotation must
// process them in.
func Tiers() []Tier {
	return []Tier{Monthly, Weekly, Daily}
}

func (t Tier) String() string {
	if str, ok := tierToString[t]; ok {
		return str
	}
	return fmt.Sprintf("unknown_tier(%s)", string(t))
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	if tier, ok := stringToTier[s]; ok {
		return tier, nil
	}
	return "", fmt.Errorf("invalid tier: %q. Must be 'daily', 'weekly', or 'monthly'", s)
}

// MarshalJSON implements the json.Marshaler interface for Tier.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Tier.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tier should be a string, got %s", data)
	}
	tier, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// Package subscription maps a user's plan tier onto video generation
// entitlements. The tier itself comes from the session token; this package
// only answers what the tier is allowed to do.
package subscription

import "strings"

// Tier enumerates known plan tiers.
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// StyleCatalog is the full set of rendering styles the product knows about.
// Entitlement restricts which subset a tier may use.
var StyleCatalog = []string{"mystic", "watercolor", "noir", "ethereal"}

// Limits describes what video generation a tier is entitled to.
type Limits struct {
	Enabled    bool
	Styles     []string
	MaxSeconds int
	MaxPerDay  int
}

// ForTier resolves entitlements for a tier; unknown tiers fall back to free.
func ForTier(tier string) Limits {
	switch Tier(strings.ToLower(strings.TrimSpace(tier))) {
	case TierPlus:
		return Limits{
			Enabled:    true,
			Styles:     []string{"mystic", "watercolor"},
			MaxSeconds: 10,
			MaxPerDay:  5,
		}
	case TierPro:
		return Limits{
			Enabled:    true,
			Styles:     append([]string(nil), StyleCatalog...),
			MaxSeconds: 20,
			MaxPerDay:  20,
		}
	default:
		return Limits{Enabled: false}
	}
}

// StyleAllowed reports whether the tier may use the given style.
func (l Limits) StyleAllowed(style string) bool {
	style = strings.TrimSpace(style)
	for _, s := range l.Styles {
		if strings.EqualFold(s, style) {
			return true
		}
	}
	return false
}

// DefaultStyle returns the tier's first entitled style, or the catalog head
// when the tier has none.
func (l Limits) DefaultStyle() string {
	if len(l.Styles) > 0 {
		return l.Styles[0]
	}
	return StyleCatalog[0]
}

/*
Package router maps complexity scores to model tiers.

Tiers form a fixed cost/latency/quality ladder. Routing is threshold
based, overridable by a learned prefer_tier insight, and degrades one
tier up (toward quality, never toward cost) when a local backend is
down.
*/
package router

import (
	"fmt"
	"time"

	"github.com/khanglvm/knowledge-router/internal/config"
)

// Tier is a cost/latency/quality class of model backend.
type Tier int

const (
	TierLocalTiny Tier = iota
	TierLocalMedium
	TierCloudPremium
)

// String returns the configuration name of the tier.
func (t Tier) String() string {
	switch t {
	case TierLocalTiny:
		return config.TierNameLocalTiny
	case TierLocalMedium:
		return config.TierNameLocalMedium
	case TierCloudPremium:
		return config.TierNameCloudPremium
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier resolves a configuration name to a tier.
func ParseTier(name string) (Tier, error) {
	switch name {
	case config.TierNameLocalTiny:
		return TierLocalTiny, nil
	case config.TierNameLocalMedium:
		return TierLocalMedium, nil
	case config.TierNameCloudPremium:
		return TierCloudPremium, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", name)
	}
}

// NextUp returns the next more capable tier and whether one exists.
func (t Tier) NextUp() (Tier, bool) {
	if t >= TierCloudPremium {
		return t, false
	}
	return t + 1, true
}

// Spec is the static description of one tier. Configuration data, not
// runtime-mutated.
type Spec struct {
	Tier            Tier
	ModelID         string
	CostPer1KTokens float64
	EstLatency      time.Duration
	QualityWeight   float64
}

// AllTiers lists tiers cheapest-first.
var AllTiers = []Tier{TierLocalTiny, TierLocalMedium, TierCloudPremium}

// SpecsFromConfig builds the tier table from configuration.
func SpecsFromConfig(cfg config.TiersConfig) (map[Tier]Spec, error) {
	specs := make(map[Tier]Spec, len(AllTiers))
	for _, tier := range AllTiers {
		sc, ok := cfg.Specs[tier.String()]
		if !ok {
			return nil, fmt.Errorf("missing tier spec for %s", tier)
		}
		specs[tier] = Spec{
			Tier:            tier,
			ModelID:         sc.ModelID,
			CostPer1KTokens: sc.CostPer1KTokens,
			EstLatency:      time.Duration(sc.EstLatencyMs) * time.Millisecond,
			QualityWeight:   sc.QualityWeight,
		}
	}
	return specs, nil
}

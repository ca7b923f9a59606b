package router

import (
	"log"

	"github.com/khanglvm/knowledge-router/internal/complexity"
	"github.com/khanglvm/knowledge-router/internal/insight"
)

// Threshold names an adjust_threshold insight may target.
const (
	ThresholdLocalTinyMax   = "local_tiny_max"
	ThresholdLocalMediumMax = "local_medium_max"
)

// Decision is the immutable routing outcome for one query.
type Decision struct {
	QueryID         string           `json:"query_id"`
	Complexity      complexity.Score `json:"complexity"`
	Tier            Tier             `json:"chosen_tier"`
	ModelID         string           `json:"chosen_model_id"`
	AppliedInsights []string         `json:"applied_insight_ids,omitempty"`

	// DefaultTier is what threshold routing alone would have chosen,
	// before insight overrides and availability degrades. Recorded so
	// mining can measure overrides against the baseline.
	DefaultTier Tier `json:"default_tier"`
}

// Availability reports whether a tier's backend can currently serve.
type Availability func(Tier) bool

// Router decides which tier answers a query. It reads learned insights
// through the store's cache and never writes. Safe for concurrent use.
type Router struct {
	specs          map[Tier]Spec
	localTinyMax   float64
	localMediumMax float64

	insights           *insight.Store
	minApplyConfidence float64
	available          Availability
}

// New creates a router. available may be nil, meaning every tier serves.
func New(specs map[Tier]Spec, localTinyMax, localMediumMax float64, insights *insight.Store, minApplyConfidence float64, available Availability) *Router {
	if available == nil {
		available = func(Tier) bool { return true }
	}
	return &Router{
		specs:              specs,
		localTinyMax:       localTinyMax,
		localMediumMax:     localMediumMax,
		insights:           insights,
		minApplyConfidence: minApplyConfidence,
		available:          available,
	}
}

// Route maps a complexity score and category to a tier and model.
// It never calls the model; the caller executes the decision.
func (r *Router) Route(queryID string, score complexity.Score, categoryLabel string) Decision {
	tinyMax, mediumMax, thresholdInsight := r.effectiveThresholds(categoryLabel)

	defaultTier := r.thresholdTier(score.Value, r.localTinyMax, r.localMediumMax)
	tier := r.thresholdTier(score.Value, tinyMax, mediumMax)

	var applied []string
	if thresholdInsight != "" && tier != defaultTier {
		applied = append(applied, thresholdInsight)
	}

	// A learned tier preference overrides thresholds when confident.
	if ins := r.insights.Active(categoryLabel, insight.ActionPreferTier); ins != nil && ins.Confidence >= r.minApplyConfidence {
		if preferred, err := ParseTier(ins.Payload.Tier); err == nil {
			tier = preferred
			applied = append(applied, ins.ID)
		} else {
			log.Printf("Warning: prefer_tier insight %s has invalid payload: %v", ins.ID, err)
		}
	}

	// Degrade up while the chosen tier's backend is down. Never degrade
	// toward a cheaper tier: fail safe toward quality, not cost.
	for !r.available(tier) {
		next, ok := tier.NextUp()
		if !ok {
			break
		}
		log.Printf("Warning: tier %s unavailable, degrading up to %s", tier, next)
		tier = next
	}

	return Decision{
		QueryID:         queryID,
		Complexity:      score,
		Tier:            tier,
		ModelID:         r.specs[tier].ModelID,
		AppliedInsights: applied,
		DefaultTier:     defaultTier,
	}
}

// Spec returns the static spec of a tier.
func (r *Router) Spec(tier Tier) Spec {
	return r.specs[tier]
}

// effectiveThresholds applies an adjust_threshold insight for the
// category, returning the thresholds and the applied insight id ("" if
// none).
func (r *Router) effectiveThresholds(categoryLabel string) (tinyMax, mediumMax float64, appliedID string) {
	tinyMax, mediumMax = r.localTinyMax, r.localMediumMax

	ins := r.insights.Active(categoryLabel, insight.ActionAdjustThreshold)
	if ins == nil || ins.Confidence < r.minApplyConfidence {
		return tinyMax, mediumMax, ""
	}

	switch ins.Payload.Threshold {
	case ThresholdLocalTinyMax:
		tinyMax = clampThreshold(tinyMax+ins.Payload.Delta, 0.05, mediumMax-0.05)
	case ThresholdLocalMediumMax:
		mediumMax = clampThreshold(mediumMax+ins.Payload.Delta, tinyMax+0.05, 0.95)
	default:
		log.Printf("Warning: adjust_threshold insight %s targets unknown threshold %q", ins.ID, ins.Payload.Threshold)
		return tinyMax, mediumMax, ""
	}
	return tinyMax, mediumMax, ins.ID
}

func (r *Router) thresholdTier(value, tinyMax, mediumMax float64) Tier {
	switch {
	case value < tinyMax:
		return TierLocalTiny
	case value < mediumMax:
		return TierLocalMedium
	default:
		return TierCloudPremium
	}
}

func clampThreshold(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

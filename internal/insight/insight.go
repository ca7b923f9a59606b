/*
Package insight defines learned routing recommendations and their store.

An insight is a confidence-scored recommendation mined from historical
interaction outcomes: prefer a tier for a category, prefer a source
order during fusion, or adjust a routing threshold. The store is the
single source of truth for learned policy; the router and fusion engine
read it through a short-TTL in-process cache and never write.
*/
package insight

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/khanglvm/knowledge-router/internal/storage"
)

// ActionKind enumerates insight recommendation kinds.
type ActionKind string

const (
	ActionPreferTier        ActionKind = "prefer_tier"
	ActionPreferSourceOrder ActionKind = "prefer_source_order"
	ActionAdjustThreshold   ActionKind = "adjust_threshold"
)

// Payload is the action-specific recommendation data. Exactly the
// fields relevant to the Kind are set.
type Payload struct {
	// Tier names the preferred tier (prefer_tier).
	Tier string `json:"tier,omitempty"`

	// SourceOrder lists source IDs best-first (prefer_source_order).
	SourceOrder []string `json:"source_order,omitempty"`

	// Threshold names the routing boundary to shift and Delta the
	// signed shift (adjust_threshold).
	Threshold string  `json:"threshold,omitempty"`
	Delta     float64 `json:"delta,omitempty"`
}

// Insight is a learned, confidence-scored recommendation.
type Insight struct {
	ID           string     `json:"id"`
	Category     string     `json:"category"`
	Kind         ActionKind `json:"kind"`
	Pattern      string     `json:"pattern,omitempty"`
	Payload      Payload    `json:"payload"`
	Confidence   float64    `json:"confidence"`
	SupportCount int        `json:"support_count"`
	Superseded   bool       `json:"superseded,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// fromRecord decodes a storage record.
func fromRecord(rec storage.InsightRecord) (Insight, error) {
	var payload Payload
	if rec.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(rec.PayloadJSON), &payload); err != nil {
			return Insight{}, fmt.Errorf("failed to decode insight payload %s: %w", rec.ID, err)
		}
	}
	return Insight{
		ID:           rec.ID,
		Category:     rec.Category,
		Kind:         ActionKind(rec.ActionKind),
		Pattern:      rec.Pattern,
		Payload:      payload,
		Confidence:   rec.Confidence,
		SupportCount: rec.SupportCount,
		Superseded:   rec.Superseded,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

// toRecord encodes an insight for storage.
func toRecord(ins Insight) (storage.InsightRecord, error) {
	payload, err := json.Marshal(ins.Payload)
	if err != nil {
		return storage.InsightRecord{}, fmt.Errorf("failed to encode insight payload: %w", err)
	}
	return storage.InsightRecord{
		ID:           ins.ID,
		Category:     ins.Category,
		ActionKind:   string(ins.Kind),
		Pattern:      ins.Pattern,
		PayloadJSON:  string(payload),
		Confidence:   ins.Confidence,
		SupportCount: ins.SupportCount,
		Superseded:   ins.Superseded,
		CreatedAt:    ins.CreatedAt,
		UpdatedAt:    ins.UpdatedAt,
	}, nil
}

// samePayload reports whether two payloads recommend the same thing.
func samePayload(a, b Payload) bool {
	if a.Tier != b.Tier || a.Threshold != b.Threshold || a.Delta != b.Delta {
		return false
	}
	if len(a.SourceOrder) != len(b.SourceOrder) {
		return false
	}
	for i := range a.SourceOrder {
		if a.SourceOrder[i] != b.SourceOrder[i] {
			return false
		}
	}
	return true
}

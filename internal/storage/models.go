/*
Package storage provides data models for the persistence layer.

These models mirror the logical state layout: an append-only
interaction_events log, the query_categories collection, the insights
graph (nodes plus LEARNED_FROM / APPLIES_TO edges), per-category source
outcome statistics, structured knowledge documents and cached embeddings.
*/
package storage

import "time"

// InteractionEvent is one durably recorded query interaction.
// Append-only: after creation the only permitted update is backfilling
// OutcomeSignal, keyed by QueryID.
type InteractionEvent struct {
	// Seq is the append order, assigned by storage on reads. The miner
	// watermarks on it: unlike CreatedAt it is unique and still grows
	// when the retry queue lands an old event late.
	Seq int64 `json:"-"`

	// QueryID uniquely identifies the query; doubles as the trace id.
	QueryID string `json:"query_id"`

	// SessionID groups queries of one conversation.
	SessionID string `json:"session_id"`

	// QueryHash is the SHA256 hash of the query text.
	QueryHash string `json:"query_hash"`

	// Terms are the normalized keyword terms of the query, kept so the
	// miner can characterize unclassified clusters without raw text.
	Terms []string `json:"terms,omitempty"`

	// Category is the label assigned at routing time.
	Category string `json:"category"`

	// ComplexityValue is the estimator output in [0,1].
	ComplexityValue float64 `json:"complexity_value"`

	// DominantFeature names the strongest estimator feature.
	DominantFeature string `json:"dominant_feature,omitempty"`

	// Tier is the tier that produced the answer.
	Tier string `json:"tier"`

	// DefaultTier is the tier threshold routing alone would have chosen,
	// kept so mining can measure insight overrides against the baseline.
	DefaultTier string `json:"default_tier"`

	// ModelID is the concrete model that answered.
	ModelID string `json:"model_id"`

	// AppliedInsightIDs lists insights that influenced the decision.
	AppliedInsightIDs []string `json:"applied_insight_ids,omitempty"`

	// SourcesQueried lists knowledge sources consulted during fusion.
	SourcesQueried []string `json:"sources_queried,omitempty"`

	// SnippetCount is the size of the fused context.
	SnippetCount int `json:"snippet_count"`

	// AnswerText is the model answer, retained for audit.
	AnswerText string `json:"answer_text"`

	LatencyMs int64   `json:"latency_ms"`
	CostUSD   float64 `json:"cost_usd"`

	// OutcomeSignal is the optional [0,1] quality signal, backfilled by
	// feedback. Nil until feedback arrives, possibly forever.
	OutcomeSignal *float64 `json:"outcome_signal,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// InsightRecord is a persisted learned recommendation.
type InsightRecord struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	ActionKind  string `json:"action_kind"` // prefer_tier | prefer_source_order | adjust_threshold
	Pattern     string `json:"pattern_description"`
	PayloadJSON string `json:"action_payload"`

	Confidence   float64 `json:"confidence"`
	SupportCount int     `json:"supporting_event_count"`

	// Superseded insights are kept, never deleted.
	Superseded bool `json:"superseded"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Edge kinds of the insight graph.
const (
	EdgeLearnedFrom = "LEARNED_FROM" // insight -> knowledge source
	EdgeAppliesTo   = "APPLIES_TO"   // insight -> category
)

// InsightEdge relates an insight to a category or a knowledge source.
type InsightEdge struct {
	InsightID string `json:"insight_id"`
	Kind      string `json:"kind"`
	Target    string `json:"target"`
}

// CategoryRecord is a persisted query category (static or miner-proposed).
type CategoryRecord struct {
	Label    string   `json:"label"`
	Keywords []string `json:"keywords,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`

	// Proposed marks categories the miner created from an unclassified
	// cluster, as opposed to configured ones.
	Proposed  bool      `json:"proposed"`
	CreatedAt time.Time `json:"created_at"`
}

// SourceStat is the rolling average outcome of one knowledge source
// within one category. The fusion engine uses it as a tie-break.
type SourceStat struct {
	Category   string    `json:"category"`
	SourceID   string    `json:"source_id"`
	AvgOutcome float64   `json:"avg_outcome"`
	EventCount int       `json:"event_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Document is a structured knowledge row served by the structured adapter
// and indexed by the fulltext and vector adapters at ingest time.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Attribute string    `json:"attribute,omitempty"` // free-form facet, e.g. "runtime", "networking"
	CreatedAt time.Time `json:"created_at"`
}

// Embedding is a cached document vector for the semantic adapter.
type Embedding struct {
	DocID     string    `json:"doc_id"`
	Vector    []float32 `json:"vector"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

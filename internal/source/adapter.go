/*
Package source implements the knowledge source adapters.

Each adapter wraps one retrieval backend (fulltext, vector, structured)
behind a uniform interface. Retrieval is best-effort: adapters enforce
their own timeout and return an empty result on error or deadline, so a
degraded source never fails the whole fusion. Relevance scores are
normalized to [0,1] by each adapter before returning, so the fusion
engine can compare across sources.
*/
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Provenance identifies the backend type a snippet came from.
type Provenance string

const (
	ProvenanceFulltext   Provenance = "fulltext"
	ProvenanceVector     Provenance = "vector"
	ProvenanceStructured Provenance = "structured"
)

// Snippet is one retrieved piece of knowledge.
type Snippet struct {
	// ContentHash is the content-based hash of the normalized text,
	// the fusion deduplication key.
	ContentHash string `json:"content_hash"`

	Text     string `json:"text"`
	SourceID string `json:"source_id"`

	// Relevance is normalized to [0,1] by the producing adapter.
	Relevance float64 `json:"relevance"`

	Provenance Provenance `json:"provenance"`
}

// Adapter is the uniform retrieval interface over one backend.
// Implementations are resolved at configuration time; nothing
// string-matches on backend names at call time.
type Adapter interface {
	// ID returns the configured source identifier.
	ID() string

	// Provenance returns the backend type.
	Provenance() Provenance

	// Retrieve returns up to topK normalized snippets for the query.
	// Best-effort: on timeout or backend error it returns an empty
	// slice and the error for logging; callers must not fail on it.
	Retrieve(ctx context.Context, queryText string, topK int) ([]Snippet, error)
}

// ContentHash hashes normalized snippet text: lowercased with runs of
// whitespace collapsed, so formatting differences between sources do
// not defeat deduplication.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// minMaxNormalize maps raw scores onto [0,1] against the batch's own
// range. All-equal scores normalize to 1.0.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return scores
	}

	minScore, maxScore := scores[0], scores[0]
	for _, s := range scores {
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	normalized := make([]float64, len(scores))
	if maxScore == minScore {
		for i := range normalized {
			normalized[i] = 1.0
		}
		return normalized
	}
	for i, s := range scores {
		normalized[i] = (s - minScore) / (maxScore - minScore)
	}
	return normalized
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

/*
Package fusion tests for the scatter-gather fusion engine.
*/
package fusion

import (
	"context"
	"testing"
	"time"

	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/source"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// stubAdapter returns canned snippets, optionally after a delay.
type stubAdapter struct {
	id       string
	snippets []source.Snippet
	delay    time.Duration
	err      error
}

func (s *stubAdapter) ID() string                    { return s.id }
func (s *stubAdapter) Provenance() source.Provenance { return source.ProvenanceFulltext }

func (s *stubAdapter) Retrieve(ctx context.Context, queryText string, topK int) ([]source.Snippet, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.snippets, nil
}

func snippetFrom(sourceID, text string, relevance float64, prov source.Provenance) source.Snippet {
	return source.Snippet{
		ContentHash: source.ContentHash(text),
		Text:        text,
		SourceID:    sourceID,
		Relevance:   relevance,
		Provenance:  prov,
	}
}

func newTestInsights(t *testing.T) *insight.Store {
	t.Helper()
	st := storage.NewStorage(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return insight.NewStore(st, time.Minute, 0.05)
}

// TestFuseDedupes verifies content arriving from two sources merges
// into one snippet keeping the highest relevance and both sources.
func TestFuseDedupes(t *testing.T) {
	shared := "Containers share a bridge network."
	a := &stubAdapter{id: "source-a", snippets: []source.Snippet{
		snippetFrom("source-a", shared, 0.9, source.ProvenanceFulltext),
	}}
	b := &stubAdapter{id: "source-b", snippets: []source.Snippet{
		{ContentHash: source.ContentHash(shared), Text: shared, SourceID: "source-b", Relevance: 0.7, Provenance: source.ProvenanceVector},
		snippetFrom("source-b", "Volumes persist data.", 0.6, source.ProvenanceVector),
	}}

	engine := NewEngine([]source.Adapter{a, b}, newTestInsights(t), Config{
		TopK:          10,
		FusionTimeout: time.Second,
	})

	result := engine.Fuse(context.Background(), "q-1", "bridge network", "containers", nil)
	if len(result.Snippets) != 2 {
		t.Fatalf("Expected 2 fused snippets, got %d", len(result.Snippets))
	}

	top := result.Snippets[0]
	if top.Relevance != 0.9 {
		t.Errorf("Merged relevance = %v, want the max 0.9", top.Relevance)
	}
	if len(top.Sources) != 2 {
		t.Errorf("Merged sources = %v, want both", top.Sources)
	}
	if len(top.Provenance) != 2 {
		t.Errorf("Merged provenance = %v, want both kinds", top.Provenance)
	}

	seen := make(map[string]bool)
	for _, s := range result.Snippets {
		if seen[s.ContentHash] {
			t.Errorf("Duplicate content hash %s in result", s.ContentHash)
		}
		seen[s.ContentHash] = true
	}
	if len(result.SourcesQueried) != 2 {
		t.Errorf("SourcesQueried = %v, want both", result.SourcesQueried)
	}
}

// TestFuseTopK verifies the fused list is truncated.
func TestFuseTopK(t *testing.T) {
	var snippets []source.Snippet
	texts := []string{"alpha fact", "bravo fact", "charlie fact", "delta fact", "echo fact"}
	for i, text := range texts {
		snippets = append(snippets, snippetFrom("source-a", text, float64(len(texts)-i)/10, source.ProvenanceFulltext))
	}
	a := &stubAdapter{id: "source-a", snippets: snippets}

	engine := NewEngine([]source.Adapter{a}, newTestInsights(t), Config{
		TopK:          3,
		FusionTimeout: time.Second,
	})

	result := engine.Fuse(context.Background(), "q-1", "facts", "unclassified", nil)
	if len(result.Snippets) != 3 {
		t.Fatalf("Expected 3 snippets, got %d", len(result.Snippets))
	}
	if result.Snippets[0].Text != "alpha fact" {
		t.Errorf("Top snippet = %q, want highest relevance first", result.Snippets[0].Text)
	}
}

// TestFuseSlowSourceExcluded verifies a source slower than the fusion
// deadline is dropped without failing the rest.
func TestFuseSlowSourceExcluded(t *testing.T) {
	fast := &stubAdapter{id: "fast", snippets: []source.Snippet{
		snippetFrom("fast", "quick answer", 0.8, source.ProvenanceFulltext),
	}}
	slow := &stubAdapter{id: "slow", delay: 5 * time.Second, snippets: []source.Snippet{
		snippetFrom("slow", "late answer", 0.95, source.ProvenanceVector),
	}}

	engine := NewEngine([]source.Adapter{fast, slow}, newTestInsights(t), Config{
		TopK:          10,
		FusionTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	result := engine.Fuse(context.Background(), "q-1", "answer", "unclassified", nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Fuse took %v, deadline not enforced", elapsed)
	}

	if len(result.Snippets) != 1 || result.Snippets[0].Text != "quick answer" {
		t.Errorf("Snippets = %+v, want only the fast source's", result.Snippets)
	}
	// The slow source was still queried, just not waited for.
	if len(result.SourcesQueried) != 2 {
		t.Errorf("SourcesQueried = %v, want both", result.SourcesQueried)
	}
}

// TestFuseFailedSourceExcluded verifies an erroring source is skipped.
func TestFuseFailedSourceExcluded(t *testing.T) {
	ok := &stubAdapter{id: "ok", snippets: []source.Snippet{
		snippetFrom("ok", "good answer", 0.8, source.ProvenanceFulltext),
	}}
	broken := &stubAdapter{id: "broken", err: context.DeadlineExceeded}

	engine := NewEngine([]source.Adapter{ok, broken}, newTestInsights(t), Config{
		TopK:          10,
		FusionTimeout: time.Second,
	})

	result := engine.Fuse(context.Background(), "q-1", "answer", "unclassified", nil)
	if len(result.Snippets) != 1 {
		t.Fatalf("Expected 1 snippet from the healthy source, got %d", len(result.Snippets))
	}
}

// TestFuseEmptyIsNotError verifies no augmentation is a valid result.
func TestFuseEmptyIsNotError(t *testing.T) {
	empty := &stubAdapter{id: "empty"}

	engine := NewEngine([]source.Adapter{empty}, newTestInsights(t), Config{
		TopK:          10,
		FusionTimeout: time.Second,
	})

	result := engine.Fuse(context.Background(), "q-1", "anything", "unclassified", nil)
	if len(result.Snippets) != 0 {
		t.Errorf("Snippets = %+v, want none", result.Snippets)
	}
	if len(result.SourcesQueried) != 1 {
		t.Errorf("SourcesQueried = %v", result.SourcesQueried)
	}
}

// TestFuseCandidateFilter verifies candidateSources restricts the
// scatter.
func TestFuseCandidateFilter(t *testing.T) {
	a := &stubAdapter{id: "source-a", snippets: []source.Snippet{
		snippetFrom("source-a", "from a", 0.8, source.ProvenanceFulltext),
	}}
	b := &stubAdapter{id: "source-b", snippets: []source.Snippet{
		snippetFrom("source-b", "from b", 0.9, source.ProvenanceVector),
	}}

	engine := NewEngine([]source.Adapter{a, b}, newTestInsights(t), Config{
		TopK:          10,
		FusionTimeout: time.Second,
	})

	result := engine.Fuse(context.Background(), "q-1", "q", "unclassified", map[string]bool{"source-a": true})
	if len(result.SourcesQueried) != 1 || result.SourcesQueried[0] != "source-a" {
		t.Errorf("SourcesQueried = %v, want only source-a", result.SourcesQueried)
	}
	if len(result.Snippets) != 1 || result.Snippets[0].Text != "from a" {
		t.Errorf("Snippets = %+v", result.Snippets)
	}
}

// TestFuseTieBreakDeclarationOrder verifies equal-relevance snippets
// without outcome statistics keep declaration order.
func TestFuseTieBreakDeclarationOrder(t *testing.T) {
	a := &stubAdapter{id: "first", snippets: []source.Snippet{
		snippetFrom("first", "tied one", 0.5, source.ProvenanceFulltext),
	}}
	b := &stubAdapter{id: "second", snippets: []source.Snippet{
		snippetFrom("second", "tied two", 0.5, source.ProvenanceVector),
	}}

	engine := NewEngine([]source.Adapter{a, b}, newTestInsights(t), Config{
		TopK:          10,
		FusionTimeout: time.Second,
	})

	result := engine.Fuse(context.Background(), "q-1", "tied", "unclassified", nil)
	if len(result.Snippets) != 2 {
		t.Fatalf("Expected 2 snippets, got %d", len(result.Snippets))
	}
	if result.Snippets[0].Text != "tied one" {
		t.Errorf("Tie-break order wrong: %q first", result.Snippets[0].Text)
	}
}

// TestFusePreferredSourceOrder verifies a prefer_source_order insight
// queries the preferred wave first and can skip the rest on early exit.
func TestFusePreferredSourceOrder(t *testing.T) {
	insights := newTestInsights(t)
	_, _, err := insights.Publish(insight.Insight{
		Category:     "containers",
		Kind:         insight.ActionPreferSourceOrder,
		Payload:      insight.Payload{SourceOrder: []string{"preferred"}},
		Confidence:   0.9,
		SupportCount: 30,
	}, nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	preferred := &stubAdapter{id: "preferred", snippets: []source.Snippet{
		snippetFrom("preferred", "great answer", 0.95, source.ProvenanceFulltext),
	}}
	other := &stubAdapter{id: "other", snippets: []source.Snippet{
		snippetFrom("other", "also fine", 0.5, source.ProvenanceVector),
	}}

	engine := NewEngine([]source.Adapter{other, preferred}, insights, Config{
		TopK:               1,
		FusionTimeout:      time.Second,
		EarlyExitRelevance: 0.8,
		MinApplyConfidence: 0.7,
	})

	result := engine.Fuse(context.Background(), "q-1", "answer", "containers", nil)
	// TopK snippets above the early-exit bar arrived from the preferred
	// wave, so "other" is never queried.
	if len(result.SourcesQueried) != 1 || result.SourcesQueried[0] != "preferred" {
		t.Errorf("SourcesQueried = %v, want only preferred", result.SourcesQueried)
	}
	if len(result.Snippets) != 1 || result.Snippets[0].Text != "great answer" {
		t.Errorf("Snippets = %+v", result.Snippets)
	}
}

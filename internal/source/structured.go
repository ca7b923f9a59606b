package source

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/khanglvm/knowledge-router/internal/category"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// StructuredAdapter retrieves snippets from the structured document
// table by term matching, scoring rows by the fraction of query terms
// they contain.
type StructuredAdapter struct {
	id      string
	storage storage.Storage
	timeout time.Duration
}

// NewStructuredAdapter creates a structured adapter over storage.
func NewStructuredAdapter(id string, st storage.Storage, timeout time.Duration) *StructuredAdapter {
	return &StructuredAdapter{id: id, storage: st, timeout: timeout}
}

// ID returns the configured source identifier.
func (a *StructuredAdapter) ID() string { return a.id }

// Provenance returns ProvenanceStructured.
func (a *StructuredAdapter) Provenance() Provenance { return ProvenanceStructured }

// Retrieve matches documents against the query's terms. The row-match
// score (matched terms / query terms) is already in [0,1].
func (a *StructuredAdapter) Retrieve(ctx context.Context, queryText string, topK int) ([]Snippet, error) {
	if topK <= 0 {
		topK = 10
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	terms := category.Terms(queryText, 8)
	if len(terms) == 0 {
		return nil, nil
	}

	done := make(chan struct{})
	var docs []storage.Document
	var searchErr error
	go func() {
		defer close(done)
		docs, searchErr = a.storage.SearchDocuments(terms, topK*3)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}
	if searchErr != nil {
		return nil, searchErr
	}

	type scored struct {
		doc   storage.Document
		score float64
	}
	results := make([]scored, 0, len(docs))
	for _, doc := range docs {
		haystack := strings.ToLower(doc.Title + " " + doc.Body + " " + doc.Attribute)
		matched := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, scored{
			doc:   doc,
			score: float64(matched) / float64(len(terms)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	snippets := make([]Snippet, 0, len(results))
	for _, r := range results {
		text := r.doc.Body
		if r.doc.Title != "" {
			text = r.doc.Title + ": " + r.doc.Body
		}
		snippets = append(snippets, Snippet{
			ContentHash: ContentHash(r.doc.Body),
			Text:        text,
			SourceID:    a.id,
			Relevance:   r.score,
			Provenance:  ProvenanceStructured,
		})
	}
	return snippets, nil
}

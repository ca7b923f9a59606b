package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/khanglvm/knowledge-router/internal/storage"
)

// FulltextAdapter retrieves snippets via BM25 keyword search over a
// Bleve scorch index.
type FulltextAdapter struct {
	id      string
	index   bleve.Index
	timeout time.Duration
	mu      sync.RWMutex
}

// NewFulltextAdapter creates an adapter over an in-memory index
// (tests, ephemeral runs).
func NewFulltextAdapter(id string, timeout time.Duration) (*FulltextAdapter, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &FulltextAdapter{id: id, index: index, timeout: timeout}, nil
}

// NewFulltextAdapterWithPath creates an adapter with a persistent index
// under indexPath, opening it if it already exists.
func NewFulltextAdapterWithPath(id, indexPath string, timeout time.Duration) (*FulltextAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	index, err := bleve.NewUsing(indexPath, buildIndexMapping(), scorch.Name, scorch.Name, nil)
	if err != nil {
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open/create index: %w", err)
		}
	}
	return &FulltextAdapter{id: id, index: index, timeout: timeout}, nil
}

// buildIndexMapping creates the Bleve index mapping for documents.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	titleMapping := bleve.NewTextFieldMapping()
	docMapping.AddFieldMappingsAt("title", titleMapping)

	bodyMapping := bleve.NewTextFieldMapping()
	docMapping.AddFieldMappingsAt("body", bodyMapping)

	attrMapping := bleve.NewTextFieldMapping()
	docMapping.AddFieldMappingsAt("attribute", attrMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// ID returns the configured source identifier.
func (a *FulltextAdapter) ID() string { return a.id }

// Provenance returns ProvenanceFulltext.
func (a *FulltextAdapter) Provenance() Provenance { return ProvenanceFulltext }

// Index adds documents to the fulltext index in one batch.
func (a *FulltextAdapter) Index(docs []storage.Document) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := a.index.NewBatch()
	for _, doc := range docs {
		entry := map[string]interface{}{
			"title":     doc.Title,
			"body":      doc.Body,
			"attribute": doc.Attribute,
		}
		if err := batch.Index(doc.ID, entry); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := a.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to batch index documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (a *FulltextAdapter) Count() (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index.DocCount()
}

// Close releases the index.
func (a *FulltextAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index != nil {
		return a.index.Close()
	}
	return nil
}

// Retrieve performs BM25 search, min-max normalizing BM25 scores to
// [0,1] against this batch's score range.
func (a *FulltextAdapter) Retrieve(ctx context.Context, queryText string, topK int) ([]Snippet, error) {
	if topK <= 0 {
		topK = 10
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.mu.RLock()
	defer a.mu.RUnlock()

	searchQuery := bleve.NewMatchQuery(queryText)
	request := bleve.NewSearchRequestOptions(searchQuery, topK, 0, false)
	request.Fields = []string{"title", "body"}

	results, err := a.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	rawScores := make([]float64, len(results.Hits))
	for i, hit := range results.Hits {
		rawScores[i] = hit.Score
	}
	normalized := minMaxNormalize(rawScores)

	snippets := make([]Snippet, 0, len(results.Hits))
	for i, hit := range results.Hits {
		title, _ := hit.Fields["title"].(string)
		body, _ := hit.Fields["body"].(string)
		text := body
		if title != "" {
			text = title + ": " + body
		}
		snippets = append(snippets, Snippet{
			ContentHash: ContentHash(body),
			Text:        text,
			SourceID:    a.id,
			Relevance:   normalized[i],
			Provenance:  ProvenanceFulltext,
		})
	}
	return snippets, nil
}

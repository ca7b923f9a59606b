package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// IngestDocument is the JSON-lines input format of the ingest command.
type IngestDocument struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Attribute string `json:"attribute,omitempty"`
}

// Ingestor loads documents into every knowledge backend: the structured
// table, the fulltext index and the embedding cache.
type Ingestor struct {
	storage  storage.Storage
	fulltext *FulltextAdapter
	vector   *VectorAdapter
	embedder Embedder
}

// NewIngestor wires an ingestor over the given backends. Fulltext and
// vector may be nil when only the structured table is populated.
func NewIngestor(st storage.Storage, ft *FulltextAdapter, vec *VectorAdapter, emb Embedder) *Ingestor {
	return &Ingestor{storage: st, fulltext: ft, vector: vec, embedder: emb}
}

// IngestJSONLines reads one JSON document per line and ingests each.
// Malformed lines are skipped with a warning. Returns the ingested count.
func (ing *Ingestor) IngestJSONLines(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var docs []storage.Document
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var in IngestDocument
		if err := json.Unmarshal(line, &in); err != nil {
			log.Printf("Warning: skipping malformed document on line %d: %v", lineNo, err)
			continue
		}
		if in.Body == "" {
			log.Printf("Warning: skipping document with empty body on line %d", lineNo)
			continue
		}
		if in.ID == "" {
			in.ID = uuid.NewString()
		}
		docs = append(docs, storage.Document{
			ID:        in.ID,
			Title:     in.Title,
			Body:      in.Body,
			Attribute: in.Attribute,
			CreatedAt: time.Now(),
		})
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read documents: %w", err)
	}

	if err := ing.Ingest(docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Ingest stores documents and updates every retrieval backend.
func (ing *Ingestor) Ingest(docs []storage.Document) error {
	for _, doc := range docs {
		if err := ing.storage.InsertDocument(doc); err != nil {
			return fmt.Errorf("failed to store document %s: %w", doc.ID, err)
		}
	}

	if ing.fulltext != nil {
		if err := ing.fulltext.Index(docs); err != nil {
			return err
		}
	}

	if ing.vector != nil && ing.embedder != nil {
		for _, doc := range docs {
			vec := ing.embedder.Embed(doc.Body)
			ing.vector.Add(doc.ID, doc.Body, vec)
			if err := ing.storage.SaveEmbedding(doc.ID, vec, ing.embedder.Version()); err != nil {
				log.Printf("Warning: failed to cache embedding for %s: %v", doc.ID, err)
			}
		}
	}

	return nil
}

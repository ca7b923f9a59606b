package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SaveCategory upserts a query category.
func (s *SQLiteStorage) SaveCategory(cat CategoryRecord) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO query_categories (label, keywords, pattern, proposed, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(label) DO UPDATE SET
			keywords = excluded.keywords,
			pattern = excluded.pattern`,
		cat.Label, marshalStrings(cat.Keywords), cat.Pattern,
		boolToInt(cat.Proposed), cat.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

// ListCategories returns all stored categories.
func (s *SQLiteStorage) ListCategories() ([]CategoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT label, keywords, pattern, proposed, created_at
		FROM query_categories ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []CategoryRecord
	for rows.Next() {
		var cat CategoryRecord
		var keywords string
		var proposed int
		if err := rows.Scan(&cat.Label, &keywords, &cat.Pattern, &proposed, &cat.CreatedAt); err != nil {
			return nil, err
		}
		cat.Keywords = unmarshalStrings(keywords)
		cat.Proposed = proposed != 0
		cats = append(cats, cat)
	}
	return cats, rows.Err()
}

// UpsertSourceStat stores a per-(category, source) outcome average.
func (s *SQLiteStorage) UpsertSourceStat(stat SourceStat) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO source_stats (category, source_id, avg_outcome, event_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(category, source_id) DO UPDATE SET
			avg_outcome = excluded.avg_outcome,
			event_count = excluded.event_count,
			updated_at = excluded.updated_at`,
		stat.Category, stat.SourceID, stat.AvgOutcome, stat.EventCount,
		stat.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert source stat: %w", err)
	}
	return nil
}

// SourceStats returns the outcome averages for a category.
func (s *SQLiteStorage) SourceStats(category string) ([]SourceStat, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT category, source_id, avg_outcome, event_count, updated_at
		FROM source_stats WHERE category = ?`,
		category,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query source stats: %w", err)
	}
	defer rows.Close()

	var stats []SourceStat
	for rows.Next() {
		var st SourceStat
		if err := rows.Scan(&st.Category, &st.SourceID, &st.AvgOutcome, &st.EventCount, &st.UpdatedAt); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Watermark returns a named event-sequence watermark, zero if unset.
func (s *SQLiteStorage) Watermark(name string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow("SELECT seq FROM watermarks WHERE name = ?", name)
	var seq int64
	err := row.Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	return seq, nil
}

// SetWatermark records a named event-sequence watermark.
func (s *SQLiteStorage) SetWatermark(name string, seq int64) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO watermarks (name, seq) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET seq = excluded.seq`,
		name, seq,
	)
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return nil
}

// InsertDocument stores a structured knowledge document.
func (s *SQLiteStorage) InsertDocument(doc Document) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, body, attribute, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			attribute = excluded.attribute`,
		doc.ID, doc.Title, doc.Body, doc.Attribute, doc.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// SearchDocuments matches documents whose title, body or attribute
// contains any query term, scored by match count in SQL would be
// awkward; matching happens per-term with LIKE and the structured
// adapter computes the final score.
func (s *SQLiteStorage) SearchDocuments(terms []string, limit int) ([]Document, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var clauses []string
	var args []interface{}
	for _, term := range terms {
		like := "%" + strings.ToLower(term) + "%"
		clauses = append(clauses, "(LOWER(title) LIKE ? OR LOWER(body) LIKE ? OR LOWER(attribute) LIKE ?)")
		args = append(args, like, like, like)
	}
	args = append(args, limit)

	query := `
		SELECT id, title, body, attribute, created_at FROM documents
		WHERE ` + strings.Join(clauses, " OR ") + `
		LIMIT ?`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	// Stable order for equal SQL ordering.
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// AllDocuments returns every stored document.
func (s *SQLiteStorage) AllDocuments() ([]Document, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id, title, body, attribute, created_at FROM documents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var doc Document
		var attr sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Body, &attr, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.Attribute = attr.String
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SaveEmbedding caches a document embedding.
func (s *SQLiteStorage) SaveEmbedding(docID string, vector []float32, version string) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO embeddings (doc_id, vector, version, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			vector = excluded.vector,
			version = excluded.version`,
		docID, vectorToJSON(vector), version, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// AllEmbeddings returns all cached embeddings.
func (s *SQLiteStorage) AllEmbeddings() ([]Embedding, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT doc_id, vector, version, created_at FROM embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []Embedding
	for rows.Next() {
		var emb Embedding
		var raw string
		if err := rows.Scan(&emb.DocID, &raw, &emb.Version, &emb.CreatedAt); err != nil {
			return nil, err
		}
		vector, err := jsonToVector(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedding for %s: %w", emb.DocID, err)
		}
		emb.Vector = vector
		embeddings = append(embeddings, emb)
	}
	return embeddings, rows.Err()
}

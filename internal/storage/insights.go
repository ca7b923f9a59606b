package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertInsight stores a new insight node and its graph edges atomically.
func (s *SQLiteStorage) InsertInsight(rec InsightRecord, edges []InsightEdge) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin insight insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO insights (
			id, category, action_kind, pattern, payload,
			confidence, support_count, superseded, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Category, rec.ActionKind, rec.Pattern, rec.PayloadJSON,
		rec.Confidence, rec.SupportCount, boolToInt(rec.Superseded),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}

	for _, edge := range edges {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO insight_edges (insight_id, kind, target)
			VALUES (?, ?, ?)`,
			edge.InsightID, edge.Kind, edge.Target,
		)
		if err != nil {
			return fmt.Errorf("failed to insert insight edge: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateInsight refreshes the confidence and support of an existing insight.
func (s *SQLiteStorage) UpdateInsight(rec InsightRecord) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE insights
		SET pattern = ?, payload = ?, confidence = ?, support_count = ?, updated_at = ?
		WHERE id = ?`,
		rec.Pattern, rec.PayloadJSON, rec.Confidence, rec.SupportCount,
		rec.UpdatedAt.UTC(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update insight: %w", err)
	}
	return nil
}

// MarkSuperseded retires an insight. Superseded insights are kept for
// lineage, never deleted.
func (s *SQLiteStorage) MarkSuperseded(id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE insights SET superseded = 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to supersede insight: %w", err)
	}
	return nil
}

// ActiveInsight returns the highest-confidence, most recent non-superseded
// insight for a (category, action kind) pair, or nil.
func (s *SQLiteStorage) ActiveInsight(category, actionKind string) (*InsightRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(insightSelect+`
		WHERE category = ? AND action_kind = ? AND superseded = 0
		ORDER BY confidence DESC, updated_at DESC
		LIMIT 1`,
		category, actionKind,
	)
	rec, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active insight: %w", err)
	}
	return &rec, nil
}

// InsightsByCategory lists all insights of a category, newest first.
func (s *SQLiteStorage) InsightsByCategory(category string) ([]InsightRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(insightSelect+`
		WHERE category = ? ORDER BY updated_at DESC`,
		category,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	var records []InsightRecord
	for rows.Next() {
		rec, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// InsightSources answers "which knowledge sources contribute to insights
// for this category" by following LEARNED_FROM edges from the category's
// active insights.
func (s *SQLiteStorage) InsightSources(category string) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT DISTINCT e.target
		FROM insight_edges e
		JOIN insights i ON i.id = e.insight_id
		WHERE i.category = ? AND i.superseded = 0 AND e.kind = ?
		ORDER BY e.target`,
		category, EdgeLearnedFrom,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query insight sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

const insightSelect = `
	SELECT id, category, action_kind, pattern, payload,
	       confidence, support_count, superseded, created_at, updated_at
	FROM insights`

func scanInsight(row rowScanner) (InsightRecord, error) {
	var rec InsightRecord
	var superseded int
	err := row.Scan(
		&rec.ID, &rec.Category, &rec.ActionKind, &rec.Pattern,
		&rec.PayloadJSON, &rec.Confidence, &rec.SupportCount,
		&superseded, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return InsightRecord{}, err
	}
	rec.Superseded = superseded != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

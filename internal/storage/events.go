package storage

import (
	"database/sql"
	"fmt"
)

// AppendEvent durably records an interaction event.
func (s *SQLiteStorage) AppendEvent(event InteractionEvent) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO interaction_events (
			query_id, session_id, query_hash, terms, category,
			complexity, dominant_feature, tier, default_tier, model_id,
			applied_insight_ids, sources_queried, snippet_count,
			answer_text, latency_ms, cost_usd, outcome_signal, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_id) DO NOTHING`,
		event.QueryID, event.SessionID, event.QueryHash,
		marshalStrings(event.Terms), event.Category,
		event.ComplexityValue, event.DominantFeature,
		event.Tier, event.DefaultTier, event.ModelID,
		marshalStrings(event.AppliedInsightIDs),
		marshalStrings(event.SourcesQueried), event.SnippetCount,
		event.AnswerText, event.LatencyMs, event.CostUSD,
		event.OutcomeSignal, event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// UpdateOutcome backfills the outcome signal of an event.
// Setting the same signal twice is a no-op change.
func (s *SQLiteStorage) UpdateOutcome(queryID string, signal float64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE interaction_events SET outcome_signal = ? WHERE query_id = ?",
		signal, queryID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	// RowsAffected is 0 both for a missing row and for an update that
	// changed nothing; distinguish them so repeated feedback stays OK.
	row := s.db.QueryRow(
		"SELECT COUNT(1) FROM interaction_events WHERE query_id = ?", queryID,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetEvent returns one event by query id, or nil if absent.
func (s *SQLiteStorage) GetEvent(queryID string) (*InteractionEvent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(eventSelect+" WHERE query_id = ?", queryID)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

// EventsAfter returns events appended strictly after the given
// sequence number, in append order.
func (s *SQLiteStorage) EventsAfter(seq int64) ([]InteractionEvent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		eventSelect+" WHERE rowid > ? ORDER BY rowid ASC",
		seq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []InteractionEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEventsAfter counts events appended strictly after the given
// sequence number.
func (s *SQLiteStorage) CountEventsAfter(seq int64) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		"SELECT COUNT(1) FROM interaction_events WHERE rowid > ?",
		seq,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

const eventSelect = `
	SELECT rowid, query_id, session_id, query_hash, terms, category,
	       complexity, dominant_feature, tier, default_tier, model_id,
	       applied_insight_ids, sources_queried, snippet_count,
	       answer_text, latency_ms, cost_usd, outcome_signal, created_at
	FROM interaction_events`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (InteractionEvent, error) {
	var event InteractionEvent
	var terms, applied, sources string
	var outcome sql.NullFloat64

	err := row.Scan(
		&event.Seq,
		&event.QueryID, &event.SessionID, &event.QueryHash, &terms,
		&event.Category, &event.ComplexityValue, &event.DominantFeature,
		&event.Tier, &event.DefaultTier, &event.ModelID,
		&applied, &sources, &event.SnippetCount,
		&event.AnswerText, &event.LatencyMs, &event.CostUSD,
		&outcome, &event.CreatedAt,
	)
	if err != nil {
		return InteractionEvent{}, err
	}

	event.Terms = unmarshalStrings(terms)
	event.AppliedInsightIDs = unmarshalStrings(applied)
	event.SourcesQueried = unmarshalStrings(sources)
	if outcome.Valid {
		v := outcome.Float64
		event.OutcomeSignal = &v
	}
	return event, nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"log"
)

// runMigrations executes database schema migrations.
func (s *SQLiteStorage) runMigrations() error {
	if !s.enabled || s.db == nil {
		return nil
	}

	if err := s.createMigrationsTable(); err != nil {
		return err
	}

	version, err := s.getCurrentMigrationVersion()
	if err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "initial_schema", up: s.migration001InitialSchema},
	}

	for _, m := range migrations {
		if version < m.version {
			log.Printf("Running migration %d: %s", m.version, m.name)
			if err := m.up(); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			if err := s.setMigrationVersion(m.version); err != nil {
				return err
			}
		}
	}

	return nil
}

// migration represents a single database migration.
type migration struct {
	version int
	name    string
	up      func() error
}

func (s *SQLiteStorage) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStorage) getCurrentMigrationVersion() (int, error) {
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *SQLiteStorage) setMigrationVersion(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		version, fmt.Sprintf("migration_%d", version),
	)
	return err
}

// migration001InitialSchema creates the initial database schema.
func (s *SQLiteStorage) migration001InitialSchema() error {
	stmts := []struct {
		what string
		sql  string
	}{
		{"interaction_events table", `
			CREATE TABLE IF NOT EXISTS interaction_events (
				query_id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				query_hash TEXT NOT NULL,
				terms TEXT,
				category TEXT NOT NULL,
				complexity REAL NOT NULL,
				dominant_feature TEXT,
				tier TEXT NOT NULL,
				default_tier TEXT NOT NULL,
				model_id TEXT NOT NULL,
				applied_insight_ids TEXT,
				sources_queried TEXT,
				snippet_count INTEGER NOT NULL,
				answer_text TEXT NOT NULL,
				latency_ms INTEGER NOT NULL,
				cost_usd REAL NOT NULL,
				outcome_signal REAL,
				created_at DATETIME NOT NULL
			)`},
		{"interaction_events created_at index", `
			CREATE INDEX IF NOT EXISTS idx_events_created_at
			ON interaction_events(created_at)`},
		{"interaction_events category index", `
			CREATE INDEX IF NOT EXISTS idx_events_category
			ON interaction_events(category)`},
		{"insights table", `
			CREATE TABLE IF NOT EXISTS insights (
				id TEXT PRIMARY KEY,
				category TEXT NOT NULL,
				action_kind TEXT NOT NULL,
				pattern TEXT NOT NULL,
				payload TEXT NOT NULL,
				confidence REAL NOT NULL,
				support_count INTEGER NOT NULL,
				superseded INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`},
		{"insights active lookup index", `
			CREATE INDEX IF NOT EXISTS idx_insights_active
			ON insights(category, action_kind, superseded)`},
		{"insight_edges table", `
			CREATE TABLE IF NOT EXISTS insight_edges (
				insight_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				target TEXT NOT NULL,
				PRIMARY KEY (insight_id, kind, target)
			)`},
		{"query_categories table", `
			CREATE TABLE IF NOT EXISTS query_categories (
				label TEXT PRIMARY KEY,
				keywords TEXT,
				pattern TEXT,
				proposed INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			)`},
		{"source_stats table", `
			CREATE TABLE IF NOT EXISTS source_stats (
				category TEXT NOT NULL,
				source_id TEXT NOT NULL,
				avg_outcome REAL NOT NULL,
				event_count INTEGER NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (category, source_id)
			)`},
		{"watermarks table", `
			CREATE TABLE IF NOT EXISTS watermarks (
				name TEXT PRIMARY KEY,
				seq INTEGER NOT NULL
			)`},
		{"documents table", `
			CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				body TEXT NOT NULL,
				attribute TEXT,
				created_at DATETIME NOT NULL
			)`},
		{"embeddings table", `
			CREATE TABLE IF NOT EXISTS embeddings (
				doc_id TEXT PRIMARY KEY,
				vector BLOB NOT NULL,
				version TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`},
	}

	for _, st := range stmts {
		if _, err := s.db.Exec(st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.what, err)
		}
	}
	return nil
}

// marshalStrings serializes a string slice for a TEXT column.
func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		log.Printf("Warning: failed to marshal string list: %v", err)
		return "[]"
	}
	return string(data)
}

// unmarshalStrings parses a TEXT column back to a string slice.
func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		log.Printf("Warning: failed to unmarshal string list: %v", err)
		return nil
	}
	return values
}

// vectorToJSON converts a float32 vector to JSON for storage.
func vectorToJSON(vector []float32) string {
	data, err := json.Marshal(vector)
	if err != nil {
		log.Printf("Warning: failed to marshal vector: %v", err)
		return "[]"
	}
	return string(data)
}

// jsonToVector parses JSON storage back to a float32 vector.
func jsonToVector(jsonStr string) ([]float32, error) {
	var vector []float32
	if err := json.Unmarshal([]byte(jsonStr), &vector); err != nil {
		return nil, err
	}
	return vector, nil
}

/*
Package storage implements the persistent layer for the knowledge router.

SQLite-backed (modernc.org/sqlite, pure Go) with graceful degradation:
if the database cannot be opened, storage disables itself and the query
path keeps answering without learning.
*/
package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrDisabled is returned when storage could not be initialized and an
// operation that must be durable is attempted.
var ErrDisabled = errors.New("storage is disabled")

// Storage defines the persistence operations of the router.
type Storage interface {
	// Init opens the database and runs migrations.
	Init() error
	// Close closes the database connection.
	Close() error

	// AppendEvent durably records an interaction event. Idempotent on
	// QueryID: re-recording after an ambiguous failure cannot produce
	// a duplicate.
	AppendEvent(event InteractionEvent) error
	// UpdateOutcome backfills the outcome signal of an event.
	// Returns false if no event with that QueryID exists. Idempotent.
	UpdateOutcome(queryID string, signal float64) (bool, error)
	// GetEvent returns one event by query id, or nil.
	GetEvent(queryID string) (*InteractionEvent, error)
	// EventsAfter returns events appended strictly after the given
	// sequence number, in append order.
	EventsAfter(seq int64) ([]InteractionEvent, error)
	// CountEventsAfter counts events appended strictly after the given
	// sequence number.
	CountEventsAfter(seq int64) (int, error)

	// InsertInsight stores a new insight node and its graph edges.
	InsertInsight(rec InsightRecord, edges []InsightEdge) error
	// UpdateInsight refreshes confidence/support of an existing insight.
	UpdateInsight(rec InsightRecord) error
	// MarkSuperseded retires an insight without deleting it.
	MarkSuperseded(id string) error
	// ActiveInsight returns the non-superseded insight for a
	// (category, action kind) pair, or nil.
	ActiveInsight(category, actionKind string) (*InsightRecord, error)
	// InsightsByCategory lists all insights of a category, newest first.
	InsightsByCategory(category string) ([]InsightRecord, error)
	// InsightSources answers the graph query "which sources contribute
	// to insights for this category" via LEARNED_FROM edges.
	InsightSources(category string) ([]string, error)

	// SaveCategory upserts a query category.
	SaveCategory(cat CategoryRecord) error
	// ListCategories returns all stored categories.
	ListCategories() ([]CategoryRecord, error)

	// UpsertSourceStat stores a per-(category, source) outcome average.
	UpsertSourceStat(stat SourceStat) error
	// SourceStats returns the outcome averages for a category.
	SourceStats(category string) ([]SourceStat, error)

	// Watermark returns a named event-sequence watermark, zero if
	// unset.
	Watermark(name string) (int64, error)
	// SetWatermark records a named event-sequence watermark.
	SetWatermark(name string, seq int64) error

	// InsertDocument stores a structured knowledge document.
	InsertDocument(doc Document) error
	// SearchDocuments matches documents against query terms.
	SearchDocuments(terms []string, limit int) ([]Document, error)
	// AllDocuments returns every stored document (ingest/reindex path).
	AllDocuments() ([]Document, error)

	// SaveEmbedding caches a document embedding.
	SaveEmbedding(docID string, vector []float32, version string) error
	// AllEmbeddings returns all cached embeddings.
	AllEmbeddings() ([]Embedding, error)
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	enabled  bool
	mu       sync.Mutex
	initOnce sync.Once
}

// NewStorage creates a SQLite storage instance rooted at dataDir.
// The database file is <dataDir>/router.db.
func NewStorage(dataDir string) *SQLiteStorage {
	return &SQLiteStorage{
		dbPath:  filepath.Join(dataDir, "router.db"),
		enabled: true,
	}
}

// Init opens the database and runs migrations.
//
// If initialization fails, storage is disabled and durable operations
// return ErrDisabled (graceful degradation: callers log and continue).
func (s *SQLiteStorage) Init() error {
	if !s.enabled {
		return nil
	}

	var initErr error
	s.initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
			initErr = fmt.Errorf("failed to create db directory: %w", err)
			s.enabled = false
			return
		}

		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			s.enabled = false
			return
		}
		s.db = db

		if err := db.Ping(); err != nil {
			initErr = fmt.Errorf("failed to ping database: %w", err)
			s.enabled = false
			return
		}

		if err := s.runMigrations(); err != nil {
			initErr = fmt.Errorf("failed to run migrations: %w", err)
			s.enabled = false
			return
		}
	})

	return initErr
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if !s.enabled || s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

func (s *SQLiteStorage) ready() error {
	if !s.enabled || s.db == nil {
		return ErrDisabled
	}
	return nil
}

// HashQuery creates a SHA256 hash of a query string.
func HashQuery(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:])
}

package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/khanglvm/knowledge-router/internal/storage"
)

// DeadLetter appends undeliverable events to a JSON-lines file for
// manual inspection.
type DeadLetter struct {
	path string
	mu   sync.Mutex
}

// deadLetterEntry is one line of the dead-letter file.
type deadLetterEntry struct {
	Reason    string                   `json:"reason"`
	FailedAt  time.Time                `json:"failed_at"`
	Event     storage.InteractionEvent `json:"event"`
}

// NewDeadLetter creates a dead-letter sink at <dataDir>/dead_letter.jsonl.
func NewDeadLetter(dataDir string) *DeadLetter {
	return &DeadLetter{path: filepath.Join(dataDir, "dead_letter.jsonl")}
}

// Write appends one event with its failure reason.
func (d *DeadLetter) Write(event storage.InteractionEvent, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("failed to create dead-letter directory: %w", err)
	}

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(deadLetterEntry{
		Reason:   reason,
		FailedAt: time.Now(),
		Event:    event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write dead-letter entry: %w", err)
	}
	return nil
}

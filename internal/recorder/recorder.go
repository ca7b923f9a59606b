/*
Package recorder durably logs interaction events.

The write path is synchronous with a short timeout so user-facing
latency stays bounded: on timeout or storage failure the event moves to
an async retry queue with bounded backoff, and after the retry budget is
spent it lands in a dead-letter file for manual inspection. Recorder
failures never abort the caller's response.
*/
package recorder

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/khanglvm/knowledge-router/internal/storage"
)

// retryQueueSize bounds the in-flight retry backlog. A full queue sends
// events straight to the dead letter rather than blocking the caller.
const retryQueueSize = 256

// Recorder persists interaction events with at-least-once semantics.
type Recorder struct {
	storage      storage.Storage
	writeTimeout time.Duration
	maxRetries   int
	retryBackoff time.Duration
	deadLetter   *DeadLetter

	retryQueue chan retryItem
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type retryItem struct {
	event   storage.InteractionEvent
	attempt int
}

// New creates a recorder and starts its retry worker.
func New(st storage.Storage, dl *DeadLetter, writeTimeout time.Duration, maxRetries int, retryBackoff time.Duration) *Recorder {
	if writeTimeout <= 0 {
		writeTimeout = 500 * time.Millisecond
	}
	if retryBackoff <= 0 {
		retryBackoff = 200 * time.Millisecond
	}
	r := &Recorder{
		storage:      st,
		writeTimeout: writeTimeout,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		deadLetter:   dl,
		retryQueue:   make(chan retryItem, retryQueueSize),
		stopChan:     make(chan struct{}),
	}
	r.wg.Add(1)
	go r.processRetries()
	return r
}

// Record persists an event. The synchronous attempt is bounded by the
// write timeout; failures enqueue an async retry and return nil, since
// recording problems must not surface to the end user.
func (r *Recorder) Record(ctx context.Context, event storage.InteractionEvent) error {
	if err := r.tryAppend(ctx, event); err != nil {
		log.Printf("Warning: event write failed for %s, queueing retry: %v", event.QueryID, err)
		r.enqueue(retryItem{event: event, attempt: 1})
	}
	return nil
}

// UpdateOutcome backfills the outcome signal of a recorded event.
// Idempotent: applying the same signal twice is a no-op change.
// Returns false when no event with that query id exists.
func (r *Recorder) UpdateOutcome(queryID string, signal float64) (bool, error) {
	return r.storage.UpdateOutcome(queryID, signal)
}

// Stop drains the retry worker. Queued retries get one final attempt;
// still-failing events go to the dead letter.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()
	})
}

// tryAppend performs one bounded durable write attempt.
func (r *Recorder) tryAppend(ctx context.Context, event storage.InteractionEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.storage.AppendEvent(event)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) enqueue(item retryItem) {
	select {
	case r.retryQueue <- item:
	default:
		log.Printf("Warning: retry queue full, dead-lettering event %s", item.event.QueryID)
		r.toDeadLetter(item.event, "retry queue full")
	}
}

// processRetries retries failed writes with bounded linear backoff.
func (r *Recorder) processRetries() {
	defer r.wg.Done()

	for {
		select {
		case item := <-r.retryQueue:
			r.retry(item)
		case <-r.stopChan:
			for {
				select {
				case item := <-r.retryQueue:
					// Final attempt on shutdown, no backoff.
					if err := r.storage.AppendEvent(item.event); err != nil {
						r.toDeadLetter(item.event, err.Error())
					}
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) retry(item retryItem) {
	for attempt := item.attempt; attempt <= r.maxRetries; attempt++ {
		select {
		case <-r.stopChan:
		case <-time.After(time.Duration(attempt) * r.retryBackoff):
		}

		err := r.storage.AppendEvent(item.event)
		if err == nil {
			return
		}
		log.Printf("Warning: event retry %d/%d failed for %s: %v", attempt, r.maxRetries, item.event.QueryID, err)
	}
	r.toDeadLetter(item.event, "retry budget exhausted")
}

func (r *Recorder) toDeadLetter(event storage.InteractionEvent, reason string) {
	if r.deadLetter == nil {
		log.Printf("Warning: dropping event %s (%s): no dead-letter sink", event.QueryID, reason)
		return
	}
	if err := r.deadLetter.Write(event, reason); err != nil {
		log.Printf("Warning: dead-letter write failed for %s: %v", event.QueryID, err)
	}
}

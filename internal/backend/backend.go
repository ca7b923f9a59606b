/*
Package backend wraps the model inference endpoints.

A backend is an opaque callable: prompt plus context snippets in, text
plus token/cost accounting out. Failures surface as the typed errors
below so the router's degrade logic can react; nothing here throws
opaque errors across the boundary.
*/
package backend

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Typed failures the router reacts to.
var (
	// ErrModelUnavailable means the backend cannot serve right now
	// (connection refused, 5xx, rate limited).
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrModelTimeout means the call exceeded its deadline.
	ErrModelTimeout = errors.New("model timeout")

	// ErrModelRefused means the backend rejected the request itself
	// (bad request, content refusal). Retrying the same prompt on a
	// different tier may still help.
	ErrModelRefused = errors.New("model refused")
)

// Invocation is one model call.
type Invocation struct {
	ModelID string

	// Prompt is the user query.
	Prompt string

	// ContextSnippets is the fused knowledge context, best-first.
	ContextSnippets []string
}

// Result is a completed model call.
type Result struct {
	Text       string
	TokensUsed int64
	CostUSD    float64
}

// Backend executes model calls for one tier.
type Backend interface {
	// Invoke runs one call. Errors wrap one of the typed failures.
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// healthCooldown is how long a tier is considered down after an
// availability failure before the router may try it again.
const healthCooldown = 30 * time.Second

// Health tracks per-tier availability from observed failures. The
// router consults it for degrade-up decisions.
type Health struct {
	mu       sync.RWMutex
	downSince map[string]time.Time
}

// NewHealth creates an empty health tracker (everything available).
func NewHealth() *Health {
	return &Health{downSince: make(map[string]time.Time)}
}

// MarkDown records an availability failure for a tier.
func (h *Health) MarkDown(tier string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downSince[tier] = time.Now()
}

// MarkUp clears a tier's failure state after a successful call.
func (h *Health) MarkUp(tier string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.downSince, tier)
}

// Available reports whether a tier may serve. A tier marked down
// becomes available again after the cooldown.
func (h *Health) Available(tier string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	since, ok := h.downSince[tier]
	if !ok {
		return true
	}
	return time.Since(since) > healthCooldown
}

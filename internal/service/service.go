/*
Package service orchestrates the query path.

answer_query runs estimate -> categorize -> route -> fuse -> invoke ->
record. The path is request-scoped: no shared mutable state between
in-flight queries beyond the read-only insight cache. Every external
failure is caught and classified into a degrade action or a typed
result; nothing opaque crosses this boundary.
*/
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/khanglvm/knowledge-router/internal/backend"
	"github.com/khanglvm/knowledge-router/internal/category"
	"github.com/khanglvm/knowledge-router/internal/complexity"
	"github.com/khanglvm/knowledge-router/internal/fusion"
	"github.com/khanglvm/knowledge-router/internal/recorder"
	"github.com/khanglvm/knowledge-router/internal/router"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// Typed user-visible failures. Everything else is handled internally.
var (
	// ErrAllTiersUnavailable means every model tier failed; the caller
	// should report "temporarily unavailable".
	ErrAllTiersUnavailable = errors.New("all model tiers unavailable")

	// ErrDeadlineExceeded means the overall query deadline passed.
	ErrDeadlineExceeded = errors.New("query deadline exceeded")
)

// Answer is the result of answer_query.
type Answer struct {
	AnswerText  string   `json:"answer_text"`
	TierUsed    string   `json:"tier_used"`
	SourcesUsed []string `json:"sources_used"`
	LatencyMs   int64    `json:"latency_ms"`
	CostUSD     float64  `json:"cost_usd"`

	// TraceID identifies the interaction for later feedback.
	TraceID string `json:"trace_id"`
}

// Service wires the query path components.
type Service struct {
	estimator  *complexity.Estimator
	categories *category.Set
	router     *router.Router
	fusion     *fusion.Engine
	backends   map[router.Tier]backend.Backend
	health     *backend.Health
	recorder   *recorder.Recorder
	deadline   time.Duration
}

// New creates a service.
func New(
	estimator *complexity.Estimator,
	categories *category.Set,
	tierRouter *router.Router,
	fusionEngine *fusion.Engine,
	backends map[router.Tier]backend.Backend,
	health *backend.Health,
	rec *recorder.Recorder,
	deadline time.Duration,
) *Service {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Service{
		estimator:  estimator,
		categories: categories,
		router:     tierRouter,
		fusion:     fusionEngine,
		backends:   backends,
		health:     health,
		recorder:   rec,
		deadline:   deadline,
	}
}

// AnswerQuery answers one query end to end. deadline overrides the
// configured default when positive.
func (s *Service) AnswerQuery(ctx context.Context, text, sessionID string, deadline time.Duration) (Answer, error) {
	if deadline <= 0 {
		deadline = s.deadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	started := time.Now()
	queryID := uuid.NewString()

	score := s.estimator.Estimate(text)
	categoryLabel := s.categories.Match(text)
	decision := s.router.Route(queryID, score, categoryLabel)

	fused := s.fusion.Fuse(ctx, queryID, text, categoryLabel, nil)

	result, tierUsed, err := s.invokeWithDegrade(ctx, decision, text, fused)
	if err != nil {
		// No fabricated answers: a failed query records nothing.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrDeadlineExceeded) {
			return Answer{}, fmt.Errorf("query %s: %w", queryID, ErrDeadlineExceeded)
		}
		return Answer{}, fmt.Errorf("query %s: %w", queryID, ErrAllTiersUnavailable)
	}

	latency := time.Since(started)
	s.record(ctx, queryID, sessionID, text, score, categoryLabel, decision, tierUsed, fused, result, latency)

	return Answer{
		AnswerText:  result.Text,
		TierUsed:    tierUsed.String(),
		SourcesUsed: fused.SourcesQueried,
		LatencyMs:   latency.Milliseconds(),
		CostUSD:     result.CostUSD,
		TraceID:     queryID,
	}, nil
}

// SubmitFeedback backfills an outcome signal for a past interaction.
// Returns false when the trace id is unknown.
func (s *Service) SubmitFeedback(traceID string, outcomeSignal float64) (bool, error) {
	if outcomeSignal < 0 || outcomeSignal > 1 {
		return false, fmt.Errorf("outcome signal %v out of range [0,1]", outcomeSignal)
	}
	return s.recorder.UpdateOutcome(traceID, outcomeSignal)
}

// invokeWithDegrade executes the routed tier, climbing one tier at a
// time on unavailability or timeout. It never degrades downward.
func (s *Service) invokeWithDegrade(ctx context.Context, decision router.Decision, text string, fused fusion.Result) (backend.Result, router.Tier, error) {
	snippets := make([]string, 0, len(fused.Snippets))
	for _, sn := range fused.Snippets {
		snippets = append(snippets, sn.Text)
	}

	tier := decision.Tier
	modelID := decision.ModelID
	var lastErr error

	for {
		be, ok := s.backends[tier]
		if !ok {
			lastErr = fmt.Errorf("no backend for tier %s: %w", tier, backend.ErrModelUnavailable)
		} else {
			result, err := be.Invoke(ctx, backend.Invocation{
				ModelID:         modelID,
				Prompt:          text,
				ContextSnippets: snippets,
			})
			if err == nil {
				s.health.MarkUp(tier.String())
				return result, tier, nil
			}
			lastErr = err

			// The backend rewraps deadline errors into its own timeout
			// type, so ask the context itself: once the overall
			// deadline is gone, climbing tiers cannot help.
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return backend.Result{}, tier, ErrDeadlineExceeded
			}
			if errors.Is(err, backend.ErrModelUnavailable) {
				s.health.MarkDown(tier.String())
			}
			if !errors.Is(err, backend.ErrModelUnavailable) &&
				!errors.Is(err, backend.ErrModelTimeout) &&
				!errors.Is(err, backend.ErrModelRefused) {
				// Unclassified backend error: treat as unavailable
				// rather than leaking it upward.
				log.Printf("Warning: unclassified backend error on %s: %v", tier, err)
			}
		}

		next, ok := tier.NextUp()
		if !ok {
			return backend.Result{}, tier, fmt.Errorf("%v: %w", lastErr, ErrAllTiersUnavailable)
		}
		log.Printf("Warning: tier %s failed (%v), retrying on %s", tier, lastErr, next)
		tier = next
		modelID = s.router.Spec(tier).ModelID
	}
}

// record persists the interaction. Failures are the recorder's problem
// (retry queue, dead letter), never the caller's.
func (s *Service) record(
	ctx context.Context,
	queryID, sessionID, text string,
	score complexity.Score,
	categoryLabel string,
	decision router.Decision,
	tierUsed router.Tier,
	fused fusion.Result,
	result backend.Result,
	latency time.Duration,
) {
	event := storage.InteractionEvent{
		QueryID:           queryID,
		SessionID:         sessionID,
		QueryHash:         storage.HashQuery(text),
		Terms:             category.Terms(text, 8),
		Category:          categoryLabel,
		ComplexityValue:   score.Value,
		DominantFeature:   score.DominantFeature(),
		Tier:              tierUsed.String(),
		DefaultTier:       decision.DefaultTier.String(),
		ModelID:           s.router.Spec(tierUsed).ModelID,
		AppliedInsightIDs: decision.AppliedInsights,
		SourcesQueried:    fused.SourcesQueried,
		SnippetCount:      len(fused.Snippets),
		AnswerText:        result.Text,
		LatencyMs:         latency.Milliseconds(),
		CostUSD:           result.CostUSD,
		CreatedAt:         time.Now(),
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		log.Printf("Warning: failed to hand event %s to recorder: %v", queryID, err)
	}
}

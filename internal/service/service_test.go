/*
Package service tests for the end-to-end query path.
*/
package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/khanglvm/knowledge-router/internal/backend"
	"github.com/khanglvm/knowledge-router/internal/category"
	"github.com/khanglvm/knowledge-router/internal/complexity"
	"github.com/khanglvm/knowledge-router/internal/config"
	"github.com/khanglvm/knowledge-router/internal/fusion"
	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/recorder"
	"github.com/khanglvm/knowledge-router/internal/router"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// scriptedBackend answers or fails per its script. Invocations are
// counted so tests can assert which tiers were tried. With block set it
// hangs until the context expires, then fails the way the real backend
// classifies a deadline error.
type scriptedBackend struct {
	text    string
	err     error
	block   bool
	invoked int
}

func (b *scriptedBackend) Invoke(ctx context.Context, inv backend.Invocation) (backend.Result, error) {
	b.invoked++
	if b.block {
		<-ctx.Done()
		return backend.Result{}, fmt.Errorf("model %s: %w", inv.ModelID, backend.ErrModelTimeout)
	}
	if b.err != nil {
		return backend.Result{}, b.err
	}
	return backend.Result{Text: b.text, TokensUsed: 10, CostUSD: 0.001}, nil
}

type testHarness struct {
	svc      *Service
	storage  *storage.SQLiteStorage
	health   *backend.Health
	backends map[router.Tier]*scriptedBackend
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := config.NewConfig()

	st := storage.NewStorage(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	insights := insight.NewStore(st, time.Minute, 0.05)
	estimator := complexity.NewEstimator(cfg.Estimator)
	categories := category.NewSet([]category.Category{
		{Label: "containers", Keywords: []string{"docker"}},
	})

	specs, err := router.SpecsFromConfig(cfg.Tiers)
	if err != nil {
		t.Fatalf("SpecsFromConfig failed: %v", err)
	}
	health := backend.NewHealth()
	tierRouter := router.New(specs, 0.3, 0.6, insights, 0.7, func(tier router.Tier) bool {
		return health.Available(tier.String())
	})

	engine := fusion.NewEngine(nil, insights, fusion.Config{TopK: 3, FusionTimeout: time.Second})

	rec := recorder.New(st, nil, time.Second, 3, 10*time.Millisecond)
	t.Cleanup(rec.Stop)

	scripted := map[router.Tier]*scriptedBackend{
		router.TierLocalTiny:    {text: "tiny answer"},
		router.TierLocalMedium:  {text: "medium answer"},
		router.TierCloudPremium: {text: "cloud answer"},
	}
	backends := make(map[router.Tier]backend.Backend, len(scripted))
	for tier, b := range scripted {
		backends[tier] = b
	}

	svc := New(estimator, categories, tierRouter, engine, backends, health, rec, 5*time.Second)
	return &testHarness{svc: svc, storage: st, health: health, backends: scripted}
}

// TestAnswerQuerySuccess verifies the happy path answers on the routed
// tier and records exactly one event carrying the trace id.
func TestAnswerQuerySuccess(t *testing.T) {
	h := newTestHarness(t)

	answer, err := h.svc.AnswerQuery(context.Background(), "What port does docker use?", "session-1", 0)
	if err != nil {
		t.Fatalf("AnswerQuery failed: %v", err)
	}
	if answer.AnswerText == "" {
		t.Error("Empty answer text")
	}
	if answer.TraceID == "" {
		t.Fatal("Empty trace id")
	}
	if answer.TierUsed == "" {
		t.Error("Empty tier")
	}

	event, err := h.storage.GetEvent(answer.TraceID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if event == nil {
		t.Fatal("Interaction event not recorded")
	}
	if event.Category != "containers" {
		t.Errorf("Category = %q, want containers", event.Category)
	}
	if event.AnswerText != answer.AnswerText {
		t.Errorf("Recorded answer %q differs from returned %q", event.AnswerText, answer.AnswerText)
	}
}

// TestAnswerQueryDegradesUp verifies an unavailable tier climbs one
// tier up, marks the failed tier down, and records the tier actually
// used.
func TestAnswerQueryDegradesUp(t *testing.T) {
	h := newTestHarness(t)
	h.backends[router.TierLocalTiny].err =
		fmt.Errorf("connection refused: %w", backend.ErrModelUnavailable)

	// A short lookup routes to local-tiny first.
	answer, err := h.svc.AnswerQuery(context.Background(), "What is docker?", "", 0)
	if err != nil {
		t.Fatalf("AnswerQuery failed: %v", err)
	}
	if answer.TierUsed != "local-medium" {
		t.Errorf("TierUsed = %q, want local-medium", answer.TierUsed)
	}
	if answer.AnswerText != "medium answer" {
		t.Errorf("AnswerText = %q, want medium answer", answer.AnswerText)
	}
	if h.health.Available("local-tiny") {
		t.Error("Failed tier should be marked down")
	}
	if h.backends[router.TierLocalTiny].invoked != 1 {
		t.Errorf("local-tiny invoked %d times, want 1", h.backends[router.TierLocalTiny].invoked)
	}

	event, err := h.storage.GetEvent(answer.TraceID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if event.Tier != "local-medium" {
		t.Errorf("Recorded tier = %q, want local-medium", event.Tier)
	}
}

// TestAnswerQueryAllTiersDown verifies total backend failure surfaces
// the typed error and records nothing.
func TestAnswerQueryAllTiersDown(t *testing.T) {
	h := newTestHarness(t)
	for _, b := range h.backends {
		b.err = fmt.Errorf("down: %w", backend.ErrModelUnavailable)
	}

	_, err := h.svc.AnswerQuery(context.Background(), "What is docker?", "", 0)
	if !errors.Is(err, ErrAllTiersUnavailable) {
		t.Fatalf("Error = %v, want ErrAllTiersUnavailable", err)
	}

	count, err := h.storage.CountEventsAfter(0)
	if err != nil {
		t.Fatalf("CountEventsAfter failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Recorded %d events for a failed query, want 0", count)
	}
}

// TestAnswerQueryDeadline verifies an expired overall deadline surfaces
// the typed timeout result instead of climbing the remaining tiers and
// reporting them unavailable.
func TestAnswerQueryDeadline(t *testing.T) {
	h := newTestHarness(t)
	for _, b := range h.backends {
		b.block = true
	}

	_, err := h.svc.AnswerQuery(context.Background(), "What is docker?", "", 100*time.Millisecond)
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Error = %v, want ErrDeadlineExceeded", err)
	}
	if errors.Is(err, ErrAllTiersUnavailable) {
		t.Error("Deadline expiry reported as all tiers unavailable")
	}

	// The dead context must stop the climb at the first tier tried.
	total := 0
	for _, b := range h.backends {
		total += b.invoked
	}
	if total != 1 {
		t.Errorf("Backends invoked %d times, want 1", total)
	}

	count, err := h.storage.CountEventsAfter(0)
	if err != nil {
		t.Fatalf("CountEventsAfter failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Recorded %d events for a timed-out query, want 0", count)
	}
}

// TestAnswerQueryRefusedClimbs verifies a refusal on one tier still
// tries the next tier rather than giving up.
func TestAnswerQueryRefusedClimbs(t *testing.T) {
	h := newTestHarness(t)
	h.backends[router.TierLocalTiny].err =
		fmt.Errorf("bad request: %w", backend.ErrModelRefused)

	answer, err := h.svc.AnswerQuery(context.Background(), "What is docker?", "", 0)
	if err != nil {
		t.Fatalf("AnswerQuery failed: %v", err)
	}
	if answer.TierUsed != "local-medium" {
		t.Errorf("TierUsed = %q, want local-medium", answer.TierUsed)
	}
	// A refusal is not an availability failure.
	if !h.health.Available("local-tiny") {
		t.Error("Refusing tier should stay available")
	}
}

// TestSubmitFeedback verifies range validation and unknown traces.
func TestSubmitFeedback(t *testing.T) {
	h := newTestHarness(t)

	answer, err := h.svc.AnswerQuery(context.Background(), "What is docker?", "", 0)
	if err != nil {
		t.Fatalf("AnswerQuery failed: %v", err)
	}

	if _, err := h.svc.SubmitFeedback(answer.TraceID, 1.5); err == nil {
		t.Error("Out-of-range signal accepted")
	}
	if _, err := h.svc.SubmitFeedback(answer.TraceID, -0.1); err == nil {
		t.Error("Negative signal accepted")
	}

	found, err := h.svc.SubmitFeedback(answer.TraceID, 0.9)
	if err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}
	if !found {
		t.Error("Known trace reported not-found")
	}

	found, err = h.svc.SubmitFeedback("ghost", 0.5)
	if err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}
	if found {
		t.Error("Unknown trace reported found")
	}

	event, err := h.storage.GetEvent(answer.TraceID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if event.OutcomeSignal == nil || *event.OutcomeSignal != 0.9 {
		t.Errorf("OutcomeSignal = %v, want 0.9", event.OutcomeSignal)
	}
}

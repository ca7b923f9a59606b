/*
Package insight tests for the insight store and its supersede rules.
*/
package insight

import (
	"testing"
	"time"

	"github.com/khanglvm/knowledge-router/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st := storage.NewStorage(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewStore(st, time.Minute, 0.05)
}

func tierInsight(category, tier string, confidence float64) Insight {
	return Insight{
		Category:     category,
		Kind:         ActionPreferTier,
		Pattern:      "test candidate",
		Payload:      Payload{Tier: tier},
		Confidence:   confidence,
		SupportCount: 20,
	}
}

// TestPublishNew verifies a first candidate inserts and becomes active.
func TestPublishNew(t *testing.T) {
	store := newTestStore(t)

	published, changed, err := store.Publish(tierInsight("containers", "local-medium", 0.8), []string{"docs-fulltext"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !changed {
		t.Error("Publish reported no change for a first candidate")
	}
	if published.ID == "" {
		t.Error("Publish did not assign an id")
	}

	active := store.Active("containers", ActionPreferTier)
	if active == nil || active.Payload.Tier != "local-medium" {
		t.Fatalf("Active = %+v, want local-medium", active)
	}
}

// TestPublishSamePayloadRefreshes verifies a confirming candidate keeps
// the insight's identity and refreshes its confidence.
func TestPublishSamePayloadRefreshes(t *testing.T) {
	store := newTestStore(t)

	first, _, err := store.Publish(tierInsight("containers", "local-medium", 0.7), nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	second, changed, err := store.Publish(tierInsight("containers", "local-medium", 0.82), nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !changed {
		t.Error("Confirming publish reported no change")
	}
	if second.ID != first.ID {
		t.Errorf("Confirming publish changed identity: %s -> %s", first.ID, second.ID)
	}
	if second.Confidence != 0.82 {
		t.Errorf("Confidence = %v, want 0.82", second.Confidence)
	}
}

// TestPublishHysteresis verifies a contradicting candidate below the
// hysteresis band is discarded and the old insight stays active.
func TestPublishHysteresis(t *testing.T) {
	store := newTestStore(t)

	old, _, err := store.Publish(tierInsight("containers", "local-medium", 0.8), nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// 0.70 < 0.80 - 0.05: discarded.
	kept, changed, err := store.Publish(tierInsight("containers", "cloud-premium", 0.70), nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if changed {
		t.Error("Weak contradiction was published")
	}
	if kept.ID != old.ID {
		t.Errorf("Expected old insight kept, got %s", kept.ID)
	}

	// 0.78 >= 0.80 - 0.05: supersedes.
	replaced, changed, err := store.Publish(tierInsight("containers", "cloud-premium", 0.78), nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !changed {
		t.Fatal("Strong contradiction was not published")
	}
	if replaced.ID == old.ID {
		t.Error("Contradiction kept the old identity")
	}

	active := store.Active("containers", ActionPreferTier)
	if active == nil || active.Payload.Tier != "cloud-premium" {
		t.Fatalf("Active = %+v, want cloud-premium after supersede", active)
	}
}

// TestActiveCachesAbsence verifies a category without insights serves
// nil without repeated storage hits (the nil is cached too).
func TestActiveCachesAbsence(t *testing.T) {
	store := newTestStore(t)

	if ins := store.Active("nothing-here", ActionPreferTier); ins != nil {
		t.Fatalf("Active = %+v, want nil", ins)
	}
	// Second call is served from cache; behavior must be identical.
	if ins := store.Active("nothing-here", ActionPreferTier); ins != nil {
		t.Fatalf("cached Active = %+v, want nil", ins)
	}
}

// TestPublishInvalidatesCache verifies the cache does not serve a stale
// insight after a publish.
func TestPublishInvalidatesCache(t *testing.T) {
	store := newTestStore(t)

	if ins := store.Active("containers", ActionPreferTier); ins != nil {
		t.Fatalf("unexpected active insight: %+v", ins)
	}

	if _, _, err := store.Publish(tierInsight("containers", "local-medium", 0.8), nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	active := store.Active("containers", ActionPreferTier)
	if active == nil {
		t.Fatal("Active still nil after publish; cache not invalidated")
	}
}

// TestSourceOutcomes verifies stats read-through and refresh.
func TestSourceOutcomes(t *testing.T) {
	store := newTestStore(t)

	if stats := store.SourceOutcomes("containers"); len(stats) != 0 {
		t.Errorf("Expected no stats, got %v", stats)
	}

	err := store.RefreshSourceStat(storage.SourceStat{
		Category:   "containers",
		SourceID:   "docs-vector",
		AvgOutcome: 0.9,
		EventCount: 7,
		UpdatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("RefreshSourceStat failed: %v", err)
	}

	stats := store.SourceOutcomes("containers")
	if stats["docs-vector"] != 0.9 {
		t.Errorf("SourceOutcomes = %v, want docs-vector 0.9", stats)
	}
}

// TestContributingSources verifies the graph query through the
// LEARNED_FROM edges.
func TestContributingSources(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Publish(tierInsight("containers", "local-medium", 0.8), []string{"docs-fulltext", "docs-vector"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	sources, err := store.ContributingSources("containers")
	if err != nil {
		t.Fatalf("ContributingSources failed: %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("ContributingSources = %v, want 2", sources)
	}
}

package insight

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// Store fronts insight persistence with a short-TTL read cache.
//
// The hot path (router, fusion engine) calls Active and SourceOutcomes;
// both serve from cache and hit sqlite at most once per TTL per key.
// Only the miner writes, through Publish, so an insight can take up to
// one TTL to affect routing; that staleness bound is by contract.
type Store struct {
	storage storage.Storage
	ttl     time.Duration

	// hysteresis guards publishing: a candidate replaces the active
	// insight only if its confidence is at least old - hysteresis.
	hysteresis float64

	mu         sync.RWMutex
	active     map[activeKey]cachedInsight
	sourceStat map[string]cachedStats
}

type activeKey struct {
	category string
	kind     ActionKind
}

type cachedInsight struct {
	insight   *Insight // nil means "known absent"
	fetchedAt time.Time
}

type cachedStats struct {
	stats     map[string]float64
	fetchedAt time.Time
}

// NewStore creates an insight store over the given storage.
func NewStore(st storage.Storage, ttl time.Duration, hysteresis float64) *Store {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Store{
		storage:    st,
		ttl:        ttl,
		hysteresis: hysteresis,
		active:     make(map[activeKey]cachedInsight),
		sourceStat: make(map[string]cachedStats),
	}
}

// Active returns the active insight for a (category, kind) pair, or nil.
// Served from cache within the TTL; storage errors degrade to nil with a
// warning so the query path never fails on insight reads.
func (s *Store) Active(category string, kind ActionKind) *Insight {
	key := activeKey{category: category, kind: kind}

	s.mu.RLock()
	cached, ok := s.active[key]
	s.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < s.ttl {
		return cached.insight
	}

	rec, err := s.storage.ActiveInsight(category, string(kind))
	if err != nil {
		log.Printf("Warning: active insight lookup failed for %s/%s: %v", category, kind, err)
		return nil
	}

	var ins *Insight
	if rec != nil {
		decoded, err := fromRecord(*rec)
		if err != nil {
			log.Printf("Warning: %v", err)
			return nil
		}
		ins = &decoded
	}

	s.mu.Lock()
	s.active[key] = cachedInsight{insight: ins, fetchedAt: time.Now()}
	s.mu.Unlock()
	return ins
}

// SourceOutcomes returns the per-source average outcome signal for a
// category, used by the fusion tie-break. Unknown category yields an
// empty map.
func (s *Store) SourceOutcomes(category string) map[string]float64 {
	s.mu.RLock()
	cached, ok := s.sourceStat[category]
	s.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < s.ttl {
		return cached.stats
	}

	records, err := s.storage.SourceStats(category)
	if err != nil {
		log.Printf("Warning: source stats lookup failed for %s: %v", category, err)
		return nil
	}

	stats := make(map[string]float64, len(records))
	for _, rec := range records {
		stats[rec.SourceID] = rec.AvgOutcome
	}

	s.mu.Lock()
	s.sourceStat[category] = cachedStats{stats: stats, fetchedAt: time.Now()}
	s.mu.Unlock()
	return stats
}

// ListByCategory returns all insights of a category, newest first,
// uncached (inspection path, not the hot path).
func (s *Store) ListByCategory(category string) ([]Insight, error) {
	records, err := s.storage.InsightsByCategory(category)
	if err != nil {
		return nil, err
	}
	insights := make([]Insight, 0, len(records))
	for _, rec := range records {
		ins, err := fromRecord(rec)
		if err != nil {
			log.Printf("Warning: %v", err)
			continue
		}
		insights = append(insights, ins)
	}
	return insights, nil
}

// ContributingSources answers the graph query "which sources contribute
// to insights for this category".
func (s *Store) ContributingSources(category string) ([]string, error) {
	return s.storage.InsightSources(category)
}

// Publish upserts a candidate insight, applying supersede hysteresis:
//   - no active insight for (category, kind): insert.
//   - candidate recommends the same action: refresh confidence/support
//     in place, keeping the insight's identity.
//   - contradicting candidate with confidence >= old - hysteresis:
//     supersede the old insight and insert the candidate.
//   - otherwise the candidate is discarded.
//
// Returns the published insight and whether anything changed.
func (s *Store) Publish(candidate Insight, learnedFrom []string) (Insight, bool, error) {
	now := time.Now()
	old := s.Active(candidate.Category, candidate.Kind)

	if old != nil && samePayload(old.Payload, candidate.Payload) {
		updated := *old
		updated.Pattern = candidate.Pattern
		updated.Confidence = candidate.Confidence
		updated.SupportCount = candidate.SupportCount
		updated.UpdatedAt = now
		rec, err := toRecord(updated)
		if err != nil {
			return Insight{}, false, err
		}
		if err := s.storage.UpdateInsight(rec); err != nil {
			return Insight{}, false, err
		}
		s.invalidate(candidate.Category, candidate.Kind)
		return updated, true, nil
	}

	if old != nil && candidate.Confidence < old.Confidence-s.hysteresis {
		return *old, false, nil
	}

	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	candidate.CreatedAt = now
	candidate.UpdatedAt = now

	rec, err := toRecord(candidate)
	if err != nil {
		return Insight{}, false, err
	}

	edges := []storage.InsightEdge{
		{InsightID: candidate.ID, Kind: storage.EdgeAppliesTo, Target: candidate.Category},
	}
	for _, src := range learnedFrom {
		edges = append(edges, storage.InsightEdge{
			InsightID: candidate.ID,
			Kind:      storage.EdgeLearnedFrom,
			Target:    src,
		})
	}

	if old != nil {
		if err := s.storage.MarkSuperseded(old.ID); err != nil {
			return Insight{}, false, fmt.Errorf("failed to supersede insight %s: %w", old.ID, err)
		}
	}
	if err := s.storage.InsertInsight(rec, edges); err != nil {
		return Insight{}, false, err
	}

	s.invalidate(candidate.Category, candidate.Kind)
	return candidate, true, nil
}

// RefreshSourceStat persists a recomputed source outcome average and
// drops the cached copy.
func (s *Store) RefreshSourceStat(stat storage.SourceStat) error {
	if err := s.storage.UpsertSourceStat(stat); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sourceStat, stat.Category)
	s.mu.Unlock()
	return nil
}

func (s *Store) invalidate(category string, kind ActionKind) {
	s.mu.Lock()
	delete(s.active, activeKey{category: category, kind: kind})
	s.mu.Unlock()
}

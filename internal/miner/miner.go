/*
Package miner turns recorded interaction events into insights.

The miner is a periodic batch job walking Idle -> Collecting ->
Clustering -> Scoring -> Publishing -> Idle. It consumes the append-only
event log from a watermark, groups events by query category, scores
tier/source outcome aggregates per cluster, and publishes candidate
insights through the insight store (which enforces supersede
hysteresis). A failed run leaves the watermark unmoved and retries next
cycle; the query path never waits on mining.
*/
package miner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/khanglvm/knowledge-router/internal/category"
	"github.com/khanglvm/knowledge-router/internal/config"
	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// ErrRunInProgress is returned when a run is requested while another is
// active. Runs never overlap.
var ErrRunInProgress = errors.New("mining run already in progress")

// watermarkName keys the miner's progress watermark in storage.
const watermarkName = "insight_miner"

// State is the miner's position in its cycle.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateClustering
	StateScoring
	StatePublishing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateClustering:
		return "clustering"
	case StateScoring:
		return "scoring"
	case StatePublishing:
		return "publishing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Report summarizes one completed run.
type Report struct {
	EventsCollected    int
	Clusters           int
	CategoriesProposed []string
	CandidatesScored   int
	InsightsPublished  int
	Watermark          int64
}

// Miner batches events into insights.
type Miner struct {
	storage    storage.Storage
	insights   *insight.Store
	categories *category.Set
	cfg        config.MinerConfig

	// declaration-order source ids, the baseline source order.
	sourceOrder []string

	runMu sync.Mutex
	state State
	stMu  sync.RWMutex
}

// New creates a miner.
func New(st storage.Storage, insights *insight.Store, categories *category.Set, sourceOrder []string, cfg config.MinerConfig) *Miner {
	return &Miner{
		storage:     st,
		insights:    insights,
		categories:  categories,
		cfg:         cfg,
		sourceOrder: sourceOrder,
	}
}

// State returns the miner's current state.
func (m *Miner) State() State {
	m.stMu.RLock()
	defer m.stMu.RUnlock()
	return m.state
}

func (m *Miner) setState(s State) {
	m.stMu.Lock()
	m.state = s
	m.stMu.Unlock()
}

// Run executes one mining cycle. Guarded by a run-lock: concurrent
// calls fail fast with ErrRunInProgress.
func (m *Miner) Run(ctx context.Context) (Report, error) {
	if !m.runMu.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer m.runMu.Unlock()
	defer m.setState(StateIdle)

	m.setState(StateCollecting)
	watermark, err := m.storage.Watermark(watermarkName)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	events, err := m.storage.EventsAfter(watermark)
	if err != nil {
		return Report{}, fmt.Errorf("failed to collect events: %w", err)
	}
	if len(events) == 0 {
		return Report{EventsCollected: 0, Watermark: watermark}, nil
	}

	m.setState(StateClustering)
	clusters := clusterByCategory(events)
	proposed := m.proposeCategories(clusters)

	m.setState(StateScoring)
	var candidates []candidate
	for label, cluster := range clusters {
		if label == category.Unclassified {
			continue
		}
		candidates = append(candidates, m.scoreCluster(label, cluster)...)
	}

	m.setState(StatePublishing)
	published := 0
	for _, cand := range candidates {
		_, changed, err := m.insights.Publish(cand.insight, cand.learnedFrom)
		if err != nil {
			return Report{}, fmt.Errorf("failed to publish insight for %s: %w", cand.insight.Category, err)
		}
		if changed {
			published++
		}
	}
	if err := m.refreshSourceStats(clusters); err != nil {
		return Report{}, err
	}

	// Watermark moves only after everything above succeeded, so a
	// failed run is re-mined next cycle. It advances on the append
	// sequence, not CreatedAt: retried writes can land with old
	// timestamps and must still get mined.
	latest := events[len(events)-1].Seq
	if err := m.storage.SetWatermark(watermarkName, latest); err != nil {
		return Report{}, fmt.Errorf("failed to advance watermark: %w", err)
	}

	return Report{
		EventsCollected:    len(events),
		Clusters:           len(clusters),
		CategoriesProposed: proposed,
		CandidatesScored:   len(candidates),
		InsightsPublished:  published,
		Watermark:          latest,
	}, nil
}

// Start runs the miner periodically until the context ends. A cycle
// triggers on the configured interval, or early when enough new events
// accumulated.
func (m *Miner) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	check := time.NewTicker(time.Minute)
	defer check.Stop()

	lastRun := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
		}

		due := time.Since(lastRun) >= interval
		if !due && m.cfg.TriggerEventCount > 0 {
			watermark, err := m.storage.Watermark(watermarkName)
			if err == nil {
				if count, err := m.storage.CountEventsAfter(watermark); err == nil {
					due = count >= m.cfg.TriggerEventCount
				}
			}
		}
		if !due {
			continue
		}

		lastRun = time.Now()
		report, err := m.Run(ctx)
		if err != nil && !errors.Is(err, ErrRunInProgress) {
			log.Printf("Warning: mining run failed, watermark unchanged: %v", err)
			continue
		}
		if report.EventsCollected > 0 {
			log.Printf("Mining run: %d events, %d clusters, %d insights published",
				report.EventsCollected, report.Clusters, report.InsightsPublished)
		}
	}
}

// clusterByCategory groups events by their recorded category label.
func clusterByCategory(events []storage.InteractionEvent) map[string][]storage.InteractionEvent {
	clusters := make(map[string][]storage.InteractionEvent)
	for _, event := range events {
		label := event.Category
		if label == "" {
			label = category.Unclassified
		}
		clusters[label] = append(clusters[label], event)
	}
	return clusters
}

// proposeCategories inspects the unclassified bucket. When it exceeds
// the size threshold and shares a dominant term, that term becomes a
// new keyword category and the affected events are re-labeled for this
// run's scoring.
func (m *Miner) proposeCategories(clusters map[string][]storage.InteractionEvent) []string {
	unclassified := clusters[category.Unclassified]
	if len(unclassified) < m.cfg.NewCategoryThreshold {
		return nil
	}

	termCounts := make(map[string]int)
	for _, event := range unclassified {
		for _, term := range event.Terms {
			termCounts[term]++
		}
	}

	dominant := ""
	best := 0
	for term, count := range termCounts {
		if count > best || (count == best && term < dominant) {
			dominant = term
			best = count
		}
	}
	// The dominant term must actually be shared, not incidental.
	if dominant == "" || best < len(unclassified)/2 || best < m.cfg.NewCategoryThreshold {
		return nil
	}
	if m.categories.Has(dominant) {
		return nil
	}

	cat := storage.CategoryRecord{
		Label:     dominant,
		Keywords:  []string{dominant},
		Proposed:  true,
		CreatedAt: time.Now(),
	}
	if err := m.storage.SaveCategory(cat); err != nil {
		log.Printf("Warning: failed to persist proposed category %q: %v", dominant, err)
		return nil
	}
	m.categories.Add(category.Category{Label: dominant, Keywords: []string{dominant}})
	log.Printf("Proposed new query category %q from %d unclassified events", dominant, best)

	// Re-label matching events so this run can already score them.
	var remaining, moved []storage.InteractionEvent
	for _, event := range unclassified {
		if containsTerm(event.Terms, dominant) {
			moved = append(moved, event)
		} else {
			remaining = append(remaining, event)
		}
	}
	clusters[category.Unclassified] = remaining
	clusters[dominant] = append(clusters[dominant], moved...)

	return []string{dominant}
}

// refreshSourceStats recomputes per-(category, source) outcome averages
// from this batch, feeding the fusion tie-break.
func (m *Miner) refreshSourceStats(clusters map[string][]storage.InteractionEvent) error {
	now := time.Now()
	for label, cluster := range clusters {
		if label == category.Unclassified {
			continue
		}
		sums := make(map[string]float64)
		counts := make(map[string]int)
		for _, event := range cluster {
			if event.OutcomeSignal == nil {
				continue
			}
			for _, src := range event.SourcesQueried {
				sums[src] += *event.OutcomeSignal
				counts[src]++
			}
		}
		for src, count := range counts {
			stat := storage.SourceStat{
				Category:   label,
				SourceID:   src,
				AvgOutcome: sums[src] / float64(count),
				EventCount: count,
				UpdatedAt:  now,
			}
			if err := m.insights.RefreshSourceStat(stat); err != nil {
				return fmt.Errorf("failed to refresh source stat %s/%s: %w", label, src, err)
			}
		}
	}
	return nil
}

func containsTerm(terms []string, term string) bool {
	for _, t := range terms {
		if t == term {
			return true
		}
	}
	return false
}

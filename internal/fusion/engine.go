/*
Package fusion merges ranked results from the knowledge sources into one
ordered context.

Adapters are queried concurrently under a global fusion deadline; a slow
or failed source is excluded rather than blocking the rest. Results are
deduplicated by content hash, ranked by normalized relevance and
truncated to top-K. A prefer_source_order insight reorders the scatter
into a preferred wave with early exit.
*/
package fusion

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/source"
)

// Snippet is a fused, deduplicated piece of context. When the same
// content arrived from several sources, Sources and Provenance list all
// contributors and Relevance keeps the highest.
type Snippet struct {
	ContentHash string              `json:"content_hash"`
	Text        string              `json:"text"`
	Relevance   float64             `json:"relevance"`
	Sources     []string            `json:"sources"`
	Provenance  []source.Provenance `json:"provenance"`

	// primary is the source that contributed the winning relevance,
	// used for the outcome-statistics tie-break.
	primary string
}

// Result is the fused context for one query. Empty Snippets is not an
// error: it signals "no augmentation available".
type Result struct {
	QueryID        string    `json:"query_id"`
	Snippets       []Snippet `json:"snippets"`
	SourcesQueried []string  `json:"sources_queried"`
}

// Config bounds one engine.
type Config struct {
	TopK               int
	FusionTimeout      time.Duration
	EarlyExitRelevance float64
	MinApplyConfidence float64
}

// Engine fuses retrieval results. Safe for concurrent use.
type Engine struct {
	adapters []source.Adapter
	// declOrder is the configured declaration order, the tie-break of
	// last resort.
	declOrder map[string]int
	insights  *insight.Store
	cfg       Config
}

// NewEngine creates a fusion engine over the declared adapters.
func NewEngine(adapters []source.Adapter, insights *insight.Store, cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.FusionTimeout <= 0 {
		cfg.FusionTimeout = 3 * time.Second
	}
	declOrder := make(map[string]int, len(adapters))
	for i, a := range adapters {
		declOrder[a.ID()] = i
	}
	return &Engine{
		adapters:  adapters,
		declOrder: declOrder,
		insights:  insights,
		cfg:       cfg,
	}
}

// Fuse retrieves from the candidate sources and merges the results.
// candidateSources restricts the scatter; nil means all declared sources.
func (e *Engine) Fuse(ctx context.Context, queryID, queryText, categoryLabel string, candidateSources map[string]bool) Result {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FusionTimeout)
	defer cancel()

	candidates := e.selectAdapters(candidateSources)
	preferred, rest := e.splitByInsight(candidates, categoryLabel)

	queried := make([]string, 0, len(candidates))
	var collected []source.Snippet

	batch, ids := e.scatter(ctx, preferred, queryText)
	collected = append(collected, batch...)
	queried = append(queried, ids...)

	if len(rest) > 0 && !e.earlyExit(collected) {
		batch, ids = e.scatter(ctx, rest, queryText)
		collected = append(collected, batch...)
		queried = append(queried, ids...)
	}

	stats := e.insights.SourceOutcomes(categoryLabel)
	snippets := e.rank(dedupe(collected), stats)
	if len(snippets) > e.cfg.TopK {
		snippets = snippets[:e.cfg.TopK]
	}

	return Result{
		QueryID:        queryID,
		Snippets:       snippets,
		SourcesQueried: queried,
	}
}

// selectAdapters filters the declared adapters to the candidate set.
func (e *Engine) selectAdapters(candidateSources map[string]bool) []source.Adapter {
	if candidateSources == nil {
		return e.adapters
	}
	selected := make([]source.Adapter, 0, len(e.adapters))
	for _, a := range e.adapters {
		if candidateSources[a.ID()] {
			selected = append(selected, a)
		}
	}
	return selected
}

// splitByInsight partitions adapters into a preferred wave and the rest
// when an applicable prefer_source_order insight exists. Without one,
// everything lands in the first wave (query all in parallel).
func (e *Engine) splitByInsight(adapters []source.Adapter, categoryLabel string) (preferred, rest []source.Adapter) {
	ins := e.insights.Active(categoryLabel, insight.ActionPreferSourceOrder)
	if ins == nil || ins.Confidence < e.cfg.MinApplyConfidence || len(ins.Payload.SourceOrder) == 0 {
		return adapters, nil
	}

	byID := make(map[string]source.Adapter, len(adapters))
	for _, a := range adapters {
		byID[a.ID()] = a
	}

	for _, id := range ins.Payload.SourceOrder {
		if a, ok := byID[id]; ok {
			preferred = append(preferred, a)
			delete(byID, id)
		}
	}
	for _, a := range adapters {
		if _, ok := byID[a.ID()]; ok {
			rest = append(rest, a)
		}
	}
	if len(preferred) == 0 {
		return adapters, nil
	}
	return preferred, rest
}

// scatter queries adapters concurrently, returning whatever arrived
// before the deadline and the list of sources queried.
func (e *Engine) scatter(ctx context.Context, adapters []source.Adapter, queryText string) ([]source.Snippet, []string) {
	if len(adapters) == 0 {
		return nil, nil
	}

	type sourceResult struct {
		snippets []source.Snippet
	}

	results := make(chan sourceResult, len(adapters))
	var wg sync.WaitGroup
	ids := make([]string, 0, len(adapters))

	for _, adapter := range adapters {
		ids = append(ids, adapter.ID())
		wg.Add(1)
		go func(a source.Adapter) {
			defer wg.Done()
			snippets, err := a.Retrieve(ctx, queryText, e.cfg.TopK)
			if err != nil {
				// Best-effort: a degraded source is excluded, never fatal.
				log.Printf("Warning: source %s retrieval failed: %v", a.ID(), err)
				return
			}
			results <- sourceResult{snippets: snippets}
		}(adapter)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var collected []source.Snippet
	for {
		select {
		case r := <-results:
			collected = append(collected, r.snippets...)
		case <-done:
			// Drain anything already buffered.
			for {
				select {
				case r := <-results:
					collected = append(collected, r.snippets...)
				default:
					return collected, ids
				}
			}
		case <-ctx.Done():
			// Deadline: late results are ignored by contract.
			return collected, ids
		}
	}
}

// earlyExit reports whether enough high-relevance snippets arrived from
// the preferred wave to skip the remaining sources.
func (e *Engine) earlyExit(collected []source.Snippet) bool {
	count := 0
	for _, s := range collected {
		if s.Relevance > e.cfg.EarlyExitRelevance {
			count++
		}
	}
	return count >= e.cfg.TopK
}

// dedupe merges snippets sharing a content hash, keeping the highest
// relevance and recording every contributing source and provenance.
func dedupe(collected []source.Snippet) []Snippet {
	merged := make(map[string]*Snippet, len(collected))
	order := make([]string, 0, len(collected))

	for _, s := range collected {
		existing, ok := merged[s.ContentHash]
		if !ok {
			merged[s.ContentHash] = &Snippet{
				ContentHash: s.ContentHash,
				Text:        s.Text,
				Relevance:   s.Relevance,
				Sources:     []string{s.SourceID},
				Provenance:  []source.Provenance{s.Provenance},
				primary:     s.SourceID,
			}
			order = append(order, s.ContentHash)
			continue
		}

		if !containsString(existing.Sources, s.SourceID) {
			existing.Sources = append(existing.Sources, s.SourceID)
		}
		if !containsProvenance(existing.Provenance, s.Provenance) {
			existing.Provenance = append(existing.Provenance, s.Provenance)
		}
		if s.Relevance > existing.Relevance {
			existing.Relevance = s.Relevance
			existing.Text = s.Text
			existing.primary = s.SourceID
		}
	}

	out := make([]Snippet, 0, len(merged))
	for _, hash := range order {
		out = append(out, *merged[hash])
	}
	return out
}

// rank orders snippets by relevance descending. Equal relevance prefers
// the snippet whose primary source has the higher historical outcome
// average for this category; unknown sources fall back to declaration
// order.
func (e *Engine) rank(snippets []Snippet, stats map[string]float64) []Snippet {
	sort.SliceStable(snippets, func(i, j int) bool {
		if snippets[i].Relevance != snippets[j].Relevance {
			return snippets[i].Relevance > snippets[j].Relevance
		}
		si, iOK := stats[snippets[i].primary]
		sj, jOK := stats[snippets[j].primary]
		if iOK && jOK && si != sj {
			return si > sj
		}
		if iOK != jOK {
			return iOK
		}
		return e.declOrder[snippets[i].primary] < e.declOrder[snippets[j].primary]
	})
	return snippets
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsProvenance(list []source.Provenance, v source.Provenance) bool {
	for _, p := range list {
		if p == v {
			return true
		}
	}
	return false
}

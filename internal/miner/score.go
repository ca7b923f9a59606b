package miner

import (
	"fmt"
	"sort"

	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// maxConfidence caps mined confidence; certainty never reaches 1.0 from
// a finite sample.
const maxConfidence = 0.95

// candidate is a scored insight awaiting publication.
type candidate struct {
	insight     insight.Insight
	learnedFrom []string
}

// clusterMetrics are the aggregates of one category cluster.
type clusterMetrics struct {
	size        int
	avgCost     float64
	avgLatency  float64
	avgOutcome  float64
	scoredCount int

	// tier -> (avg outcome, scored count)
	tierOutcome map[string]aggregate
	// source -> (avg outcome, scored count)
	sourceOutcome map[string]aggregate

	// defaultTier is the most common threshold-selected tier.
	defaultTier string
}

type aggregate struct {
	avg   float64
	count int
}

// scoreCluster computes aggregates for one category and derives
// candidate insights. Candidates require the cluster to reach the
// minimum support count and the improvement delta, guarding against
// overfitting to noise.
func (m *Miner) scoreCluster(label string, cluster []storage.InteractionEvent) []candidate {
	metrics := aggregateCluster(cluster)
	if metrics.size < m.cfg.MinSupport {
		return nil
	}

	var candidates []candidate
	if cand, ok := m.preferTierCandidate(label, metrics); ok {
		candidates = append(candidates, cand)
	}
	if cand, ok := m.preferSourceOrderCandidate(label, metrics); ok {
		candidates = append(candidates, cand)
	}
	return candidates
}

// aggregateCluster folds a cluster into its metrics.
func aggregateCluster(cluster []storage.InteractionEvent) clusterMetrics {
	metrics := clusterMetrics{
		size:          len(cluster),
		tierOutcome:   make(map[string]aggregate),
		sourceOutcome: make(map[string]aggregate),
	}

	var costSum, latencySum, outcomeSum float64
	tierSums := make(map[string]float64)
	tierCounts := make(map[string]int)
	sourceSums := make(map[string]float64)
	sourceCounts := make(map[string]int)
	defaultTierCounts := make(map[string]int)

	for _, event := range cluster {
		costSum += event.CostUSD
		latencySum += float64(event.LatencyMs)
		defaultTierCounts[event.DefaultTier]++

		// Events without feedback contribute to cost/latency but not
		// to outcome aggregates.
		if event.OutcomeSignal == nil {
			continue
		}
		signal := *event.OutcomeSignal
		outcomeSum += signal
		metrics.scoredCount++
		tierSums[event.Tier] += signal
		tierCounts[event.Tier]++
		for _, src := range event.SourcesQueried {
			sourceSums[src] += signal
			sourceCounts[src]++
		}
	}

	metrics.avgCost = costSum / float64(metrics.size)
	metrics.avgLatency = latencySum / float64(metrics.size)
	if metrics.scoredCount > 0 {
		metrics.avgOutcome = outcomeSum / float64(metrics.scoredCount)
	}
	for tier, count := range tierCounts {
		metrics.tierOutcome[tier] = aggregate{avg: tierSums[tier] / float64(count), count: count}
	}
	for src, count := range sourceCounts {
		metrics.sourceOutcome[src] = aggregate{avg: sourceSums[src] / float64(count), count: count}
	}

	best, bestCount := "", 0
	for tier, count := range defaultTierCounts {
		if count > bestCount || (count == bestCount && tier < best) {
			best, bestCount = tier, count
		}
	}
	metrics.defaultTier = best

	return metrics
}

// preferTierCandidate emits a prefer_tier insight when some tier's
// average outcome beats the default tier's by at least the improvement
// delta.
func (m *Miner) preferTierCandidate(label string, metrics clusterMetrics) (candidate, bool) {
	defaultAgg, ok := metrics.tierOutcome[metrics.defaultTier]
	if !ok || defaultAgg.count == 0 {
		return candidate{}, false
	}

	bestTier := metrics.defaultTier
	bestAvg := defaultAgg.avg
	for tier, agg := range metrics.tierOutcome {
		if agg.avg > bestAvg || (agg.avg == bestAvg && tier < bestTier) {
			bestTier, bestAvg = tier, agg.avg
		}
	}
	improvement := bestAvg - defaultAgg.avg
	if bestTier == metrics.defaultTier || improvement < m.cfg.ImprovementDelta {
		return candidate{}, false
	}

	return candidate{
		insight: insight.Insight{
			Category: label,
			Kind:     insight.ActionPreferTier,
			Pattern: fmt.Sprintf(
				"tier %s averages outcome %.2f vs default %s at %.2f over %d scored events",
				bestTier, bestAvg, metrics.defaultTier, defaultAgg.avg, metrics.scoredCount,
			),
			Payload:      insight.Payload{Tier: bestTier},
			Confidence:   confidence(improvement),
			SupportCount: metrics.size,
		},
		learnedFrom: sortedKeys(metrics.sourceOutcome),
	}, true
}

// preferSourceOrderCandidate emits a prefer_source_order insight when
// the outcome-ranked source order differs from the declared order and
// the top source clearly outperforms the cluster average.
func (m *Miner) preferSourceOrderCandidate(label string, metrics clusterMetrics) (candidate, bool) {
	if len(metrics.sourceOutcome) < 2 {
		return candidate{}, false
	}

	ranked := sortedKeys(metrics.sourceOutcome)
	sort.SliceStable(ranked, func(i, j int) bool {
		ai, aj := metrics.sourceOutcome[ranked[i]], metrics.sourceOutcome[ranked[j]]
		if ai.avg != aj.avg {
			return ai.avg > aj.avg
		}
		return ranked[i] < ranked[j]
	})

	if sameOrder(ranked, m.sourceOrder) {
		return candidate{}, false
	}

	var sum float64
	for _, agg := range metrics.sourceOutcome {
		sum += agg.avg
	}
	mean := sum / float64(len(metrics.sourceOutcome))
	improvement := metrics.sourceOutcome[ranked[0]].avg - mean
	if improvement < m.cfg.ImprovementDelta {
		return candidate{}, false
	}

	return candidate{
		insight: insight.Insight{
			Category: label,
			Kind:     insight.ActionPreferSourceOrder,
			Pattern: fmt.Sprintf(
				"source %s averages outcome %.2f vs cluster mean %.2f; preferring order %v",
				ranked[0], metrics.sourceOutcome[ranked[0]].avg, mean, ranked,
			),
			Payload:      insight.Payload{SourceOrder: ranked},
			Confidence:   confidence(improvement),
			SupportCount: metrics.size,
		},
		learnedFrom: ranked,
	}, true
}

// confidence maps an outcome improvement onto [0, maxConfidence].
// The floor of 0.5 reflects that a candidate only exists once it
// cleared the support and delta guards.
func confidence(improvement float64) float64 {
	c := 0.5 + improvement
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}

// sameOrder reports whether ranked matches the prefix of declared order
// restricted to the ranked sources.
func sameOrder(ranked, declared []string) bool {
	inRanked := make(map[string]bool, len(ranked))
	for _, id := range ranked {
		inRanked[id] = true
	}
	var filtered []string
	for _, id := range declared {
		if inRanked[id] {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) != len(ranked) {
		return false
	}
	for i := range ranked {
		if ranked[i] != filtered[i] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]aggregate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

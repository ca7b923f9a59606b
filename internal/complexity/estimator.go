/*
Package complexity estimates how hard a query is to answer.

The estimator is a pure function over the query text: a weighted sum of
normalized features (length bucket, reasoning keywords, lookup keywords,
sub-question count, code/math tokens), clamped to [0,1]. Weights come from
configuration so learned insights can tune them.
*/
package complexity

import (
	"strings"

	"github.com/khanglvm/knowledge-router/internal/config"
)

// Feature names used as keys in Score.Features.
const (
	FeatureLength       = "length"
	FeatureReasoning    = "reasoning"
	FeatureLookup       = "lookup"
	FeatureSubQuestions = "sub_questions"
	FeatureCodeMath     = "code_math"
)

// lengthNorm is the character count treated as "long" for the length
// feature; longer queries saturate at 1.0.
const lengthNorm = 400.0

// Score is a complexity estimate with its contributing features.
type Score struct {
	// Value is the clamped weighted sum, in [0,1].
	Value float64

	// Features holds each normalized feature value, in [0,1].
	Features map[string]float64
}

// Estimator computes complexity scores. Safe for concurrent use; it holds
// no mutable state.
type Estimator struct {
	weights           config.EstimatorWeights
	reasoningKeywords []string
	lookupKeywords    []string
}

// NewEstimator creates an estimator from configuration.
func NewEstimator(cfg config.EstimatorConfig) *Estimator {
	return &Estimator{
		weights:           cfg.Weights,
		reasoningKeywords: lowerAll(cfg.ReasoningKeywords),
		lookupKeywords:    lowerAll(cfg.LookupKeywords),
	}
}

// Estimate derives a complexity score from the query text.
// Deterministic, no I/O. Empty text scores 0.
func (e *Estimator) Estimate(text string) Score {
	features := map[string]float64{
		FeatureLength:       0,
		FeatureReasoning:    0,
		FeatureLookup:       0,
		FeatureSubQuestions: 0,
		FeatureCodeMath:     0,
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Score{Value: 0, Features: features}
	}

	lower := strings.ToLower(trimmed)

	features[FeatureLength] = clamp01(float64(len(trimmed)) / lengthNorm)
	features[FeatureReasoning] = keywordFeature(lower, e.reasoningKeywords, 2)
	features[FeatureLookup] = keywordFeature(lower, e.lookupKeywords, 1)
	features[FeatureSubQuestions] = subQuestionFeature(trimmed)
	features[FeatureCodeMath] = codeMathFeature(trimmed)

	w := e.weights
	value := w.Length*features[FeatureLength] +
		w.Reasoning*features[FeatureReasoning] -
		w.Lookup*features[FeatureLookup] +
		w.SubQuestions*features[FeatureSubQuestions] +
		w.CodeMath*features[FeatureCodeMath]

	return Score{Value: clamp01(value), Features: features}
}

// DominantFeature returns the feature with the highest value, used by the
// miner when characterizing unclassified query clusters.
func (s Score) DominantFeature() string {
	best := ""
	bestVal := 0.0
	// Fixed iteration order so the result is deterministic.
	for _, name := range []string{
		FeatureReasoning, FeatureLookup, FeatureCodeMath,
		FeatureSubQuestions, FeatureLength,
	} {
		if v := s.Features[name]; v > bestVal {
			best = name
			bestVal = v
		}
	}
	return best
}

// keywordFeature counts keyword occurrences, saturating at saturation hits.
func keywordFeature(lowerText string, keywords []string, saturation int) float64 {
	if saturation <= 0 {
		saturation = 1
	}
	hits := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowerText, kw) {
			hits++
		}
	}
	return clamp01(float64(hits) / float64(saturation))
}

// subQuestionFeature counts question marks and line breaks as sub-question
// delimiters, saturating at 4.
func subQuestionFeature(text string) float64 {
	count := strings.Count(text, "?") + strings.Count(text, "\n")
	return clamp01(float64(count) / 4.0)
}

// codeMathFeature detects code fences, braces, and operator-dense text.
func codeMathFeature(text string) float64 {
	score := 0.0
	if strings.Contains(text, "```") || strings.Contains(text, "`") {
		score += 0.5
	}
	for _, tok := range []string{"{", "}", "==", "=>", "()", "[]", "+=", "&&", "||"} {
		if strings.Contains(text, tok) {
			score += 0.15
		}
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

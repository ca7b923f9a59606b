package config

import (
	"fmt"
	"regexp"
)

var sourceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// validSourceKinds enumerates the adapter implementations that exist.
// Provider selection happens here, at configuration time, never by
// string-matching at call time.
var validSourceKinds = map[string]bool{
	"fulltext":   true,
	"vector":     true,
	"structured": true,
}

// Validate checks the configuration for semantic errors.
func (c *Config) Validate() error {
	if c.Tiers.LocalTinyMax <= 0 || c.Tiers.LocalTinyMax >= 1 {
		return c.invalid(fmt.Sprintf("tiers.localTinyMax must be in (0,1), got %v", c.Tiers.LocalTinyMax))
	}
	if c.Tiers.LocalMediumMax <= c.Tiers.LocalTinyMax || c.Tiers.LocalMediumMax >= 1 {
		return c.invalid(fmt.Sprintf("tiers.localMediumMax must be in (localTinyMax,1), got %v", c.Tiers.LocalMediumMax))
	}

	for _, name := range []string{TierNameLocalTiny, TierNameLocalMedium, TierNameCloudPremium} {
		spec, ok := c.Tiers.Specs[name]
		if !ok {
			return c.invalid(fmt.Sprintf("tiers.specs missing %q", name))
		}
		if spec.ModelID == "" {
			return c.invalid(fmt.Sprintf("tiers.specs[%q].modelId is empty", name))
		}
		if spec.CostPer1KTokens < 0 {
			return c.invalid(fmt.Sprintf("tiers.specs[%q].costPer1kTokens is negative", name))
		}
	}

	if c.Fusion.TopK <= 0 {
		return c.invalid("fusion.topK must be positive")
	}
	if c.Fusion.SourceTimeoutMs <= 0 || c.Fusion.FusionTimeoutMs <= 0 {
		return c.invalid("fusion timeouts must be positive")
	}
	if c.Fusion.EarlyExitRelevance < 0 || c.Fusion.EarlyExitRelevance > 1 {
		return c.invalid("fusion.earlyExitRelevance must be in [0,1]")
	}

	if len(c.Sources) == 0 {
		return c.invalid("at least one knowledge source must be declared")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if !sourceIDPattern.MatchString(src.ID) {
			return c.invalid(fmt.Sprintf("source id %q must be lowercase alphanumeric with dashes", src.ID))
		}
		if seen[src.ID] {
			return c.invalid(fmt.Sprintf("duplicate source id %q", src.ID))
		}
		seen[src.ID] = true
		if !validSourceKinds[src.Kind] {
			return c.invalid(fmt.Sprintf("source %q has unknown kind %q", src.ID, src.Kind))
		}
	}

	for _, cat := range c.Categories {
		if cat.Label == "" {
			return c.invalid("category with empty label")
		}
		if cat.Pattern != "" {
			if _, err := regexp.Compile(cat.Pattern); err != nil {
				return c.invalid(fmt.Sprintf("category %q pattern does not compile: %v", cat.Label, err))
			}
		}
	}

	if c.Miner.MinSupport <= 0 {
		return c.invalid("miner.minSupport must be positive")
	}
	if c.Miner.ImprovementDelta <= 0 {
		return c.invalid("miner.improvementDelta must be positive")
	}
	if c.Miner.Hysteresis < 0 {
		return c.invalid("miner.hysteresis must not be negative")
	}

	if c.Recorder.MaxRetries < 0 {
		return c.invalid("recorder.maxRetries must not be negative")
	}
	if c.Insights.CacheTTLSeconds <= 0 {
		return c.invalid("insights.cacheTtlSeconds must be positive")
	}
	if c.Insights.MinApplyConfidence < 0 || c.Insights.MinApplyConfidence > 1 {
		return c.invalid("insights.minApplyConfidence must be in [0,1]")
	}

	return nil
}

func (c *Config) invalid(msg string) error {
	return &InvalidConfigError{Message: msg}
}

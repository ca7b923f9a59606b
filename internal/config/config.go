/*
Package config handles loading, saving, and validating knowledge-router configuration.

Configuration is stored in ~/.knowledge-router.json. It covers the complexity
estimator weights, the model tier table, knowledge source declarations, fusion
limits and timeouts, insight mining thresholds, and the recorder retry policy.

Schema (abbreviated):

	{
	  "dataDir": "~/.knowledge-router",
	  "estimator": {"weights": {...}, "reasoningKeywords": [...], "lookupKeywords": [...]},
	  "tiers": {"localTinyMax": 0.3, "localMediumMax": 0.6, "specs": {...}},
	  "fusion": {"topK": 10, "sourceTimeoutMs": 2000, "fusionTimeoutMs": 3000},
	  "sources": [{"id": "docs-fulltext", "kind": "fulltext"}, ...],
	  "categories": [{"label": "llm-gateway", "keywords": [...]}, ...],
	  "miner": {"intervalMinutes": 60, "minSupport": 15, ...},
	  "recorder": {"writeTimeoutMs": 500, "maxRetries": 3},
	  "insights": {"cacheTtlSeconds": 60, "minApplyConfidence": 0.7}
	}
*/
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the root configuration structure.
type Config struct {
	// DataDir is where the sqlite database, the fulltext index and the
	// dead-letter file live. Defaults to ~/.knowledge-router.
	DataDir string `json:"dataDir,omitempty"`

	Estimator  EstimatorConfig  `json:"estimator"`
	Tiers      TiersConfig      `json:"tiers"`
	Fusion     FusionConfig     `json:"fusion"`
	Sources    []SourceConfig   `json:"sources"`
	Backends   BackendsConfig   `json:"backends"`
	Categories []CategoryConfig `json:"categories,omitempty"`
	Miner      MinerConfig      `json:"miner"`
	Recorder   RecorderConfig   `json:"recorder"`
	Insights   InsightsConfig   `json:"insights"`
	Server     ServerConfig     `json:"server"`
}

// EstimatorConfig holds the complexity estimator feature weights and keyword
// sets. Weights are configuration rather than constants so an adjust_threshold
// insight (or an operator) can tune them without a rebuild.
type EstimatorConfig struct {
	Weights           EstimatorWeights `json:"weights"`
	ReasoningKeywords []string         `json:"reasoningKeywords,omitempty"`
	LookupKeywords    []string         `json:"lookupKeywords,omitempty"`
}

// EstimatorWeights are the per-feature weights of the complexity score.
// Lookup is subtracted: lookup-style queries are simple.
type EstimatorWeights struct {
	Length       float64 `json:"length"`
	Reasoning    float64 `json:"reasoning"`
	Lookup       float64 `json:"lookup"`
	SubQuestions float64 `json:"subQuestions"`
	CodeMath     float64 `json:"codeMath"`
}

// TiersConfig holds routing thresholds and the static per-tier table.
type TiersConfig struct {
	// LocalTinyMax is the complexity below which Local-Tiny answers.
	LocalTinyMax float64 `json:"localTinyMax"`

	// LocalMediumMax is the complexity below which Local-Medium answers.
	// At or above it, Cloud-Premium answers.
	LocalMediumMax float64 `json:"localMediumMax"`

	Specs map[string]TierSpecConfig `json:"specs"`
}

// TierSpecConfig is the static description of one model tier.
type TierSpecConfig struct {
	ModelID         string  `json:"modelId"`
	CostPer1KTokens float64 `json:"costPer1kTokens"`
	EstLatencyMs    int     `json:"estLatencyMs"`
	QualityWeight   float64 `json:"qualityWeight"`
}

// FusionConfig bounds the fusion engine.
type FusionConfig struct {
	// TopK caps the fused snippet list.
	TopK int `json:"topK"`

	// SourceTimeoutMs is the per-adapter retrieval timeout.
	SourceTimeoutMs int `json:"sourceTimeoutMs"`

	// FusionTimeoutMs is the overall scatter-gather deadline.
	FusionTimeoutMs int `json:"fusionTimeoutMs"`

	// EarlyExitRelevance is the relevance bar for the insight-driven
	// early exit: stop querying lower-priority sources once TopK
	// snippets above this bar arrived from preferred ones.
	EarlyExitRelevance float64 `json:"earlyExitRelevance"`
}

// SourceConfig declares one knowledge source. Declaration order is the
// fusion tie-break order when no outcome statistics exist yet.
type SourceConfig struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "fulltext", "vector" or "structured"
}

// BackendsConfig maps tier names to model backend endpoints.
type BackendsConfig struct {
	// Endpoints keys are tier names ("local-tiny", "local-medium",
	// "cloud-premium"). Local tiers typically point BaseURL at an
	// OpenAI-compatible local server.
	Endpoints map[string]BackendEndpoint `json:"endpoints"`
}

// BackendEndpoint is one OpenAI-compatible endpoint.
type BackendEndpoint struct {
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKeyEnv string `json:"apiKeyEnv,omitempty"`
}

// CategoryConfig is a statically configured query category.
type CategoryConfig struct {
	Label    string   `json:"label"`
	Keywords []string `json:"keywords,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
}

// MinerConfig tunes the insight miner.
type MinerConfig struct {
	IntervalMinutes      int     `json:"intervalMinutes"`
	TriggerEventCount    int     `json:"triggerEventCount"`
	MinSupport           int     `json:"minSupport"`
	ImprovementDelta     float64 `json:"improvementDelta"`
	NewCategoryThreshold int     `json:"newCategoryThreshold"`
	Hysteresis           float64 `json:"hysteresis"`
}

// RecorderConfig tunes the interaction recorder durability path.
type RecorderConfig struct {
	WriteTimeoutMs int `json:"writeTimeoutMs"`
	MaxRetries     int `json:"maxRetries"`
	RetryBackoffMs int `json:"retryBackoffMs"`
}

// InsightsConfig tunes insight reads on the query path.
type InsightsConfig struct {
	// CacheTTLSeconds is the staleness bound: an insight published by
	// the miner can take up to this long to affect routing.
	CacheTTLSeconds int `json:"cacheTtlSeconds"`

	// MinApplyConfidence is the confidence below which an insight is
	// stored but not applied by the router.
	MinApplyConfidence float64 `json:"minApplyConfidence"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string `json:"addr"`
	RequestDeadlineMs int    `json:"requestDeadlineMs"`
}

// Tier names used as keys in TiersConfig.Specs and BackendsConfig.Endpoints.
const (
	TierNameLocalTiny    = "local-tiny"
	TierNameLocalMedium  = "local-medium"
	TierNameCloudPremium = "cloud-premium"
)

// NewConfig creates a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Estimator: EstimatorConfig{
			Weights: EstimatorWeights{
				Length:       0.25,
				Reasoning:    0.55,
				Lookup:       0.25,
				SubQuestions: 0.15,
				CodeMath:     0.15,
			},
			ReasoningKeywords: []string{
				"design", "prove", "compare", "trade-off", "trade-offs",
				"architect", "optimize", "analyze", "explain how", "derive",
			},
			LookupKeywords: []string{
				"what is", "define", "who is", "when was", "list",
			},
		},
		Tiers: TiersConfig{
			LocalTinyMax:   0.3,
			LocalMediumMax: 0.6,
			Specs: map[string]TierSpecConfig{
				TierNameLocalTiny: {
					ModelID:         "qwen2.5:1.5b",
					CostPer1KTokens: 0.0,
					EstLatencyMs:    250,
					QualityWeight:   0.4,
				},
				TierNameLocalMedium: {
					ModelID:         "llama3.1:8b",
					CostPer1KTokens: 0.0,
					EstLatencyMs:    900,
					QualityWeight:   0.7,
				},
				TierNameCloudPremium: {
					ModelID:         "gpt-4o",
					CostPer1KTokens: 0.01,
					EstLatencyMs:    2500,
					QualityWeight:   1.0,
				},
			},
		},
		Fusion: FusionConfig{
			TopK:               10,
			SourceTimeoutMs:    2000,
			FusionTimeoutMs:    3000,
			EarlyExitRelevance: 0.8,
		},
		Sources: []SourceConfig{
			{ID: "docs-fulltext", Kind: "fulltext"},
			{ID: "docs-vector", Kind: "vector"},
			{ID: "docs-structured", Kind: "structured"},
		},
		Backends: BackendsConfig{
			Endpoints: map[string]BackendEndpoint{
				TierNameLocalTiny:    {BaseURL: "http://localhost:11434/v1"},
				TierNameLocalMedium:  {BaseURL: "http://localhost:11434/v1"},
				TierNameCloudPremium: {APIKeyEnv: "OPENAI_API_KEY"},
			},
		},
		Miner: MinerConfig{
			IntervalMinutes:      60,
			TriggerEventCount:    100,
			MinSupport:           15,
			ImprovementDelta:     0.1,
			NewCategoryThreshold: 20,
			Hysteresis:           0.05,
		},
		Recorder: RecorderConfig{
			WriteTimeoutMs: 500,
			MaxRetries:     3,
			RetryBackoffMs: 200,
		},
		Insights: InsightsConfig{
			CacheTTLSeconds:    60,
			MinApplyConfidence: 0.7,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8787",
			RequestDeadlineMs: 30000,
		},
	}
}

// GetDefaultConfigPath returns the path to ~/.knowledge-router.json
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".knowledge-router.json"), nil
}

// DefaultDataDir returns ~/.knowledge-router.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".knowledge-router"), nil
}

// Load reads the configuration from the default path.
func Load() (*Config, error) {
	configPath, err := GetDefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads the configuration from a specific path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigNotFoundError{
				Path: path,
				Hint: "The default configuration is written on first 'serve' or 'ingest'",
			}
		}
		if os.IsPermission(err) {
			return nil, &PermissionError{
				Path: path,
				Op:   "read",
				Fix:  fmt.Sprintf("chmod 600 %s", path),
			}
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, &InvalidConfigError{
			Path:    path,
			Message: err.Error(),
			Hint:    "Check for trailing commas or unquoted keys",
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrCreate loads the configuration, writing defaults if none exists.
func LoadOrCreate() (*Config, error) {
	configPath, err := GetDefaultConfigPath()
	if err != nil {
		return nil, err
	}

	cfg, err := LoadFrom(configPath)
	if err == nil {
		return cfg, nil
	}

	var notFound *ConfigNotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	cfg = NewConfig()
	if saveErr := cfg.SaveTo(configPath); saveErr != nil {
		return nil, saveErr
	}
	return cfg, nil
}

// SaveTo writes the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{
				Path: path,
				Op:   "write",
				Fix:  fmt.Sprintf("chmod 600 %s", path),
			}
		}
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ResolveDataDir returns the configured data dir, falling back to the default.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return DefaultDataDir()
}

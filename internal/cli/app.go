/*
Package cli implements the knowledge-router commands.

Commands:
  - serve: run the HTTP API with the insight miner in the background
  - ask: answer a single query from the command line
  - ingest: load knowledge documents from JSON lines
  - mine: run one insight mining pass
  - insights: list insights for a category
  - feedback: attach an outcome signal to a past query
*/
package cli

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/khanglvm/knowledge-router/internal/backend"
	"github.com/khanglvm/knowledge-router/internal/category"
	"github.com/khanglvm/knowledge-router/internal/complexity"
	"github.com/khanglvm/knowledge-router/internal/config"
	"github.com/khanglvm/knowledge-router/internal/fusion"
	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/miner"
	"github.com/khanglvm/knowledge-router/internal/recorder"
	"github.com/khanglvm/knowledge-router/internal/router"
	"github.com/khanglvm/knowledge-router/internal/service"
	"github.com/khanglvm/knowledge-router/internal/source"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg        *config.Config
	storage    *storage.SQLiteStorage
	insights   *insight.Store
	categories *category.Set
	fulltext   *source.FulltextAdapter
	recorder   *recorder.Recorder
	service    *service.Service
	miner      *miner.Miner
}

// buildApp wires all components from configuration. Every command goes
// through here so wiring decisions live in one place.
func buildApp(cfg *config.Config) (*app, error) {
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}

	store := storage.NewStorage(dataDir)
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	insights := insight.NewStore(
		store,
		time.Duration(cfg.Insights.CacheTTLSeconds)*time.Second,
		cfg.Miner.Hysteresis,
	)

	categories, err := loadCategories(cfg, store)
	if err != nil {
		return nil, err
	}

	adapters, fulltext, err := buildAdapters(cfg, dataDir, store, source.FeatureHashEmbedder{})
	if err != nil {
		store.Close()
		return nil, err
	}

	fusionEngine := fusion.NewEngine(adapters, insights, fusion.Config{
		TopK:               cfg.Fusion.TopK,
		FusionTimeout:      time.Duration(cfg.Fusion.FusionTimeoutMs) * time.Millisecond,
		EarlyExitRelevance: cfg.Fusion.EarlyExitRelevance,
		MinApplyConfidence: cfg.Insights.MinApplyConfidence,
	})

	specs, err := router.SpecsFromConfig(cfg.Tiers)
	if err != nil {
		store.Close()
		return nil, err
	}

	health := backend.NewHealth()
	tierRouter := router.New(
		specs,
		cfg.Tiers.LocalTinyMax,
		cfg.Tiers.LocalMediumMax,
		insights,
		cfg.Insights.MinApplyConfidence,
		func(t router.Tier) bool { return health.Available(t.String()) },
	)

	backends := make(map[router.Tier]backend.Backend, len(specs))
	for tier, spec := range specs {
		endpoint := cfg.Backends.Endpoints[tier.String()]
		backends[tier] = backend.NewOpenAIBackend(endpoint, spec.CostPer1KTokens)
	}

	deadLetter := recorder.NewDeadLetter(dataDir)
	rec := recorder.New(
		store,
		deadLetter,
		time.Duration(cfg.Recorder.WriteTimeoutMs)*time.Millisecond,
		cfg.Recorder.MaxRetries,
		time.Duration(cfg.Recorder.RetryBackoffMs)*time.Millisecond,
	)

	svc := service.New(
		complexity.NewEstimator(cfg.Estimator),
		categories,
		tierRouter,
		fusionEngine,
		backends,
		health,
		rec,
		time.Duration(cfg.Server.RequestDeadlineMs)*time.Millisecond,
	)

	sourceOrder := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sourceOrder = append(sourceOrder, src.ID)
	}
	insightMiner := miner.New(store, insights, categories, sourceOrder, cfg.Miner)

	return &app{
		cfg:        cfg,
		storage:    store,
		insights:   insights,
		categories: categories,
		fulltext:   fulltext,
		recorder:   rec,
		service:    svc,
		miner:      insightMiner,
	}, nil
}

// close releases resources in reverse dependency order. The recorder
// drains its retry queue before storage goes away.
func (a *app) close() {
	a.recorder.Stop()
	if a.fulltext != nil {
		if err := a.fulltext.Close(); err != nil {
			log.Printf("Warning: failed to close fulltext index: %v", err)
		}
	}
	if err := a.storage.Close(); err != nil {
		log.Printf("Warning: failed to close storage: %v", err)
	}
}

// loadCategories merges configured categories with any the miner
// proposed in earlier runs. Configured ones win on label conflicts.
func loadCategories(cfg *config.Config, store storage.Storage) (*category.Set, error) {
	persisted, err := store.ListCategories()
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	set := category.NewSet(nil)
	for _, rec := range persisted {
		set.Add(category.Category{
			Label:    rec.Label,
			Keywords: rec.Keywords,
			Pattern:  rec.Pattern,
		})
	}
	for _, c := range cfg.Categories {
		set.Add(category.Category{
			Label:    c.Label,
			Keywords: c.Keywords,
			Pattern:  c.Pattern,
		})
	}
	return set, nil
}

// buildAdapters creates the retrieval adapters in declaration order.
// Declaration order is the fusion tie-break of last resort, so order
// here is load-bearing.
func buildAdapters(cfg *config.Config, dataDir string, store storage.Storage, embedder source.Embedder) ([]source.Adapter, *source.FulltextAdapter, error) {
	sourceTimeout := time.Duration(cfg.Fusion.SourceTimeoutMs) * time.Millisecond

	var (
		adapters []source.Adapter
		fulltext *source.FulltextAdapter
	)
	for _, src := range cfg.Sources {
		switch src.Kind {
		case "fulltext":
			ft, err := source.NewFulltextAdapterWithPath(src.ID, filepath.Join(dataDir, "fulltext.bleve"), sourceTimeout)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open fulltext index for %s: %w", src.ID, err)
			}
			fulltext = ft
			adapters = append(adapters, ft)
		case "vector":
			adapters = append(adapters, source.NewVectorAdapter(src.ID, embedder, store, sourceTimeout))
		case "structured":
			adapters = append(adapters, source.NewStructuredAdapter(src.ID, store, sourceTimeout))
		default:
			// Validate rejects unknown kinds before we get here.
			return nil, nil, fmt.Errorf("unknown source kind %q", src.Kind)
		}
	}
	return adapters, fulltext, nil
}

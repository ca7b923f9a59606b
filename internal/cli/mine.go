package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/knowledge-router/internal/config"
	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/miner"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// NewMineCmd creates the 'mine' command for a one-off mining pass.
func NewMineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Run one insight mining pass",
		Long: `Process interaction events recorded since the last run and publish
any insights that clear the support and improvement thresholds.

The serve process runs the same pass on a schedule; this command is for
running it on demand.`,
		Example: `  knowledge-router mine`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMine()
		},
	}

	return cmd
}

func runMine() error {
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}

	store := storage.NewStorage(dataDir)
	if err := store.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	insights := insight.NewStore(
		store,
		time.Duration(cfg.Insights.CacheTTLSeconds)*time.Second,
		cfg.Miner.Hysteresis,
	)

	categories, err := loadCategories(cfg, store)
	if err != nil {
		return err
	}

	sourceOrder := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sourceOrder = append(sourceOrder, src.ID)
	}

	m := miner.New(store, insights, categories, sourceOrder, cfg.Miner)
	report, err := m.Run(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Events collected:    %d\n", report.EventsCollected)
	fmt.Printf("Clusters:            %d\n", report.Clusters)
	if len(report.CategoriesProposed) > 0 {
		fmt.Printf("Categories proposed: %s\n", strings.Join(report.CategoriesProposed, ", "))
	}
	fmt.Printf("Candidates scored:   %d\n", report.CandidatesScored)
	fmt.Printf("Insights published:  %d\n", report.InsightsPublished)
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/knowledge-router/internal/config"
	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// NewInsightsCmd creates the 'insights' command for inspecting learned
// routing insights.
func NewInsightsCmd() *cobra.Command {
	var jsonOutput bool
	var categoryLabel string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "List learned routing insights",
		Long: `Display the insights the miner has learned, newest first.

Without --category, insights of every known category are listed.
With --sources, the sources contributing to the category's insights
are shown instead.`,
		Example: `  knowledge-router insights
  knowledge-router insights --category llm-gateway
  knowledge-router insights --category llm-gateway --sources
  knowledge-router insights --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsights(categoryLabel, showSources, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	cmd.Flags().StringVarP(&categoryLabel, "category", "c", "", "Only this category")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Show contributing sources instead")

	return cmd
}

func runInsights(categoryLabel string, showSources, jsonOutput bool) error {
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

	if showSources {
		if categoryLabel == "" {
			return fmt.Errorf("--sources requires --category")
		}
		sources, err := insights.ContributingSources(categoryLabel)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(sources)
		}
		if len(sources) == 0 {
			fmt.Printf("No sources contribute to insights for %q yet.\n", categoryLabel)
			return nil
		}
		fmt.Printf("Sources contributing to %q insights:\n", categoryLabel)
		for _, src := range sources {
			fmt.Printf("  %s\n", src)
		}
		return nil
	}

	labels := []string{categoryLabel}
	if categoryLabel == "" {
		categories, err := loadCategories(cfg, store)
		if err != nil {
			return err
		}
		labels = append(categories.Labels(), "unclassified")
	}

	var all []insight.Insight
	for _, label := range labels {
		list, err := insights.ListByCategory(label)
		if err != nil {
			return err
		}
		all = append(all, list...)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}

	if len(all) == 0 {
		fmt.Println("No insights yet.")
		fmt.Println("Insights appear once enough interactions with feedback accumulate.")
		return nil
	}

	fmt.Printf("Learned insights (%d):\n\n", len(all))
	for _, ins := range all {
		status := "active"
		if ins.Superseded {
			status = "superseded"
		}
		fmt.Printf("  %s  [%s]\n", ins.ID, status)
		fmt.Printf("    Category:   %s\n", ins.Category)
		fmt.Printf("    Action:     %s%s\n", ins.Kind, formatPayload(ins))
		fmt.Printf("    Confidence: %.2f (support %d)\n", ins.Confidence, ins.SupportCount)
		fmt.Printf("    Updated:    %s\n", ins.UpdatedAt.Format(time.RFC3339))
		fmt.Println()
	}
	return nil
}

func formatPayload(ins insight.Insight) string {
	switch ins.Kind {
	case insight.ActionPreferTier:
		return " -> " + ins.Payload.Tier
	case insight.ActionPreferSourceOrder:
		return " -> " + strings.Join(ins.Payload.SourceOrder, " > ")
	case insight.ActionAdjustThreshold:
		return fmt.Sprintf(" -> %s %+.2f", ins.Payload.Threshold, ins.Payload.Delta)
	default:
		return ""
	}
}

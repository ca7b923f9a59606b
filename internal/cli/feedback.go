package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/khanglvm/knowledge-router/internal/config"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// NewFeedbackCmd creates the 'feedback' command for scoring a past
// answer.
func NewFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback <trace-id> <signal>",
		Short: "Attach an outcome signal to a past query",
		Long: `Record how good an answer was, on a 0.0 to 1.0 scale.

The trace id is printed by 'ask' and returned by the HTTP API. Feedback
drives the insight miner: tiers and sources that earn better signals
get preferred over time.`,
		Example: `  knowledge-router feedback 3f2a... 0.8`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			signal, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid signal %q: must be a number between 0 and 1", args[1])
			}
			return runFeedback(args[0], signal)
		},
	}

	return cmd
}

func runFeedback(traceID string, signal float64) error {
	if signal < 0 || signal > 1 {
		return fmt.Errorf("signal %v out of range: must be between 0 and 1", signal)
	}

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

	found, err := store.UpdateOutcome(traceID, signal)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no interaction with trace id %s", traceID)
	}

	fmt.Printf("Recorded outcome %.2f for %s.\n", signal, traceID)
	return nil
}

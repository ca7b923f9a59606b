package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/khanglvm/knowledge-router/internal/config"
)

// NewAskCmd creates the 'ask' command for answering a single query.
func NewAskCmd() *cobra.Command {
	var jsonOutput bool
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a single query",
		Long: `Answer one query from the command line.

The query goes through the same path as the HTTP API: complexity
estimation, tier routing, knowledge fusion and interaction recording.
The printed trace id can be fed back with 'knowledge-router feedback'.`,
		Example: `  knowledge-router ask "What is Docker?"
  knowledge-router ask --json "Design a rate limiter for a multi-tenant API"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(strings.Join(args, " "), sessionID, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to group related queries")

	return cmd
}

func runAsk(query, sessionID string, jsonOutput bool) error {
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.close()

	answer, err := application.service.AnswerQuery(context.Background(), query, sessionID, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Println(answer.AnswerText)
	fmt.Println()
	fmt.Printf("Tier:     %s\n", answer.TierUsed)
	fmt.Printf("Sources:  %s\n", strings.Join(answer.SourcesUsed, ", "))
	fmt.Printf("Latency:  %dms\n", answer.LatencyMs)
	fmt.Printf("Cost:     $%.4f\n", answer.CostUSD)
	fmt.Printf("Trace:    %s\n", answer.TraceID)
	return nil
}

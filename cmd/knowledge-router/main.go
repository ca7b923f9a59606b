/*
Package main is the entry point for the knowledge-router CLI.

knowledge-router answers queries by routing each one to the cheapest
model tier its complexity allows, fusing context from several knowledge
sources, and learning better routing policy from recorded outcomes.

Usage:
  knowledge-router [command]

Available Commands:
  serve       Run the HTTP API with background insight mining
  ask         Answer a single query
  ingest      Load knowledge documents from JSON lines
  mine        Run one insight mining pass
  insights    List learned routing insights
  feedback    Attach an outcome signal to a past query
  version     Show version information
  help        Help about any command

Examples:
  # Load documents, then serve
  knowledge-router ingest docs.jsonl
  knowledge-router serve

  # One-shot query with feedback
  knowledge-router ask "What is Docker?"
  knowledge-router feedback <trace-id> 0.8
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/khanglvm/knowledge-router/internal/cli"
	"github.com/khanglvm/knowledge-router/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "knowledge-router",
		Short: "Adaptive query router - cheap models for cheap questions",
		Long: `knowledge-router routes each query to the cheapest model tier its
complexity allows: simple lookups go to a tiny local model, moderate
questions to a medium local model, and only genuinely hard queries to
a premium cloud model.

Context comes from fulltext, vector and structured knowledge sources,
fused and deduplicated per query. Every interaction is recorded, and a
background miner turns outcome feedback into routing insights that
shift future decisions toward the tiers and sources that work.`,
		Version: version.GetVersion(),
	}

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewAskCmd())
	rootCmd.AddCommand(cli.NewIngestCmd())
	rootCmd.AddCommand(cli.NewMineCmd())
	rootCmd.AddCommand(cli.NewInsightsCmd())
	rootCmd.AddCommand(cli.NewFeedbackCmd())
	rootCmd.AddCommand(cli.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

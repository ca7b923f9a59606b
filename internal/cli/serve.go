package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/knowledge-router/internal/config"
	"github.com/khanglvm/knowledge-router/internal/server"
)

// NewServeCmd creates the 'serve' command for running the HTTP API.
//
// serve wires the full query path (estimator, router, fusion engine,
// model backends, recorder) and runs the insight miner in the
// background.
func NewServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the knowledge router HTTP API",
		Long: `Start the knowledge router.

The server answers queries over HTTP, routing each one to the cheapest
model tier its complexity allows and fusing context snippets from the
configured knowledge sources. Interactions are recorded and the insight
miner periodically turns them into routing insights.`,
		Example: `  # Run with the default configuration
  knowledge-router serve

  # Listen on a different address
  knowledge-router serve --addr 0.0.0.0:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}

// runServe starts the HTTP server and the miner loop with signal
// handling. Implements graceful shutdown on SIGINT/SIGTERM/SIGQUIT.
func runServe(addr string) error {
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.close()

	srv := server.New(addr, application.service, application.insights, application.categories)

	// Miner loop stops when the serve context is cancelled.
	minerCtx, cancelMiner := context.WithCancel(context.Background())
	defer cancelMiner()
	go application.miner.Start(minerCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v, shutting down gracefully...", sig)

		cancelMiner()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
			return err
		}

		log.Println("Shutdown complete")
		return nil

	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

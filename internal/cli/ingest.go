package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/knowledge-router/internal/config"
	"github.com/khanglvm/knowledge-router/internal/source"
	"github.com/khanglvm/knowledge-router/internal/storage"
)

// NewIngestCmd creates the 'ingest' command for loading knowledge
// documents.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest knowledge documents from JSON lines",
		Long: `Load documents into the knowledge store.

Input is one JSON object per line:

  {"id": "doc-1", "title": "...", "body": "...", "attributes": {"k": "v"}}

Each document is persisted, indexed for fulltext search and embedded
for vector search. Missing ids are generated. Reads stdin when no file
is given.`,
		Example: `  knowledge-router ingest docs.jsonl
  cat docs.jsonl | knowledge-router ingest`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runIngest(path)
		},
	}

	return cmd
}

func runIngest(path string) error {
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}

	var input io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		input = f
	}

	store := storage.NewStorage(dataDir)
	if err := store.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	// Ingest opens only what it writes to; the serve process must not
	// be running since bleve holds an exclusive lock on the index.
	sourceTimeout := time.Duration(cfg.Fusion.SourceTimeoutMs) * time.Millisecond
	fulltext, err := source.NewFulltextAdapterWithPath("ingest", filepath.Join(dataDir, "fulltext.bleve"), sourceTimeout)
	if err != nil {
		return fmt.Errorf("failed to open fulltext index: %w", err)
	}
	defer fulltext.Close()

	embedder := source.FeatureHashEmbedder{}
	vector := source.NewVectorAdapter("ingest", embedder, store, sourceTimeout)

	ingestor := source.NewIngestor(store, fulltext, vector, embedder)
	count, err := ingestor.IngestJSONLines(input)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d documents.\n", count)
	return nil
}

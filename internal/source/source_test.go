/*
Package source tests for the knowledge source adapters.
*/
package source

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/khanglvm/knowledge-router/internal/storage"
)

func newTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	st := storage.NewStorage(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestContentHashNormalization verifies formatting differences between
// sources do not defeat deduplication.
func TestContentHashNormalization(t *testing.T) {
	a := ContentHash("Containers share a bridge network.")
	b := ContentHash("  containers   SHARE a\nbridge network.  ")
	if a != b {
		t.Error("ContentHash differs across whitespace/case variants")
	}

	c := ContentHash("Containers share an overlay network.")
	if a == c {
		t.Error("ContentHash collided for different content")
	}
}

// TestMinMaxNormalize verifies score normalization including the
// all-equal batch.
func TestMinMaxNormalize(t *testing.T) {
	got := minMaxNormalize([]float64{2, 6, 4})
	if got[0] != 0 || got[1] != 1 || got[2] != 0.5 {
		t.Errorf("minMaxNormalize = %v, want [0 1 0.5]", got)
	}

	equal := minMaxNormalize([]float64{3, 3, 3})
	for _, v := range equal {
		if v != 1.0 {
			t.Errorf("all-equal batch normalized to %v, want 1.0", v)
		}
	}

	if got := minMaxNormalize(nil); len(got) != 0 {
		t.Errorf("minMaxNormalize(nil) = %v", got)
	}
}

// TestFulltextRetrieve verifies BM25 retrieval with normalized scores
// over an in-memory index.
func TestFulltextRetrieve(t *testing.T) {
	adapter, err := NewFulltextAdapter("docs-fulltext", 2*time.Second)
	if err != nil {
		t.Fatalf("NewFulltextAdapter failed: %v", err)
	}
	defer adapter.Close()

	docs := []storage.Document{
		{ID: "d1", Title: "Docker networking", Body: "Containers share a bridge network by default."},
		{ID: "d2", Title: "Docker volumes", Body: "Volumes persist container data across restarts."},
		{ID: "d3", Title: "Kubernetes scheduling", Body: "The scheduler places pods on nodes."},
	}
	if err := adapter.Index(docs); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	count, err := adapter.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}

	snippets, err := adapter.Retrieve(context.Background(), "docker network bridge", 10)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(snippets) == 0 {
		t.Fatal("Retrieve returned no snippets")
	}
	if !strings.Contains(snippets[0].Text, "bridge") {
		t.Errorf("Top snippet %q does not mention bridge", snippets[0].Text)
	}
	for _, s := range snippets {
		if s.Relevance < 0 || s.Relevance > 1 {
			t.Errorf("Relevance %v out of [0,1]", s.Relevance)
		}
		if s.SourceID != "docs-fulltext" || s.Provenance != ProvenanceFulltext {
			t.Errorf("Snippet attribution wrong: %+v", s)
		}
		if s.ContentHash == "" {
			t.Error("Snippet missing content hash")
		}
	}
}

// TestEmbedderDeterministic verifies the feature-hash embedder is
// stable and normalized.
func TestEmbedderDeterministic(t *testing.T) {
	emb := FeatureHashEmbedder{}

	a := emb.Embed("docker bridge networking")
	b := emb.Embed("docker bridge networking")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("Embed is not deterministic")
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("Embedding norm = %v, want ~1", norm)
	}

	empty := emb.Embed("")
	for _, v := range empty {
		if v != 0 {
			t.Error("Empty text produced a non-zero vector")
		}
	}
}

// TestVectorRetrieve verifies cosine ranking prefers topically closer
// documents.
func TestVectorRetrieve(t *testing.T) {
	st := newTestStorage(t)
	emb := FeatureHashEmbedder{}
	adapter := NewVectorAdapter("docs-vector", emb, st, 2*time.Second)

	docker := "docker containers share a bridge network by default"
	cooking := "whisk the eggs and fold in the flour gently"
	adapter.Add("d1", docker, emb.Embed(docker))
	adapter.Add("d2", cooking, emb.Embed(cooking))

	if adapter.Size() != 2 {
		t.Fatalf("Size = %d, want 2", adapter.Size())
	}

	snippets, err := adapter.Retrieve(context.Background(), "docker bridge network", 10)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(snippets) == 0 {
		t.Fatal("Retrieve returned no snippets")
	}
	if !strings.Contains(snippets[0].Text, "docker") {
		t.Errorf("Top snippet %q is not the docker document", snippets[0].Text)
	}
	for _, s := range snippets {
		if s.Relevance < 0 || s.Relevance > 1 {
			t.Errorf("Relevance %v out of [0,1]", s.Relevance)
		}
	}
}

// TestVectorAdapterLoadsCache verifies construction picks up cached
// embeddings with a matching version and skips stale ones.
func TestVectorAdapterLoadsCache(t *testing.T) {
	st := newTestStorage(t)
	emb := FeatureHashEmbedder{}

	doc := storage.Document{ID: "d1", Title: "t", Body: "docker bridge", CreatedAt: time.Now()}
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	if err := st.SaveEmbedding("d1", emb.Embed(doc.Body), emb.Version()); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}

	stale := storage.Document{ID: "d2", Title: "t", Body: "old vector", CreatedAt: time.Now()}
	if err := st.InsertDocument(stale); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	if err := st.SaveEmbedding("d2", emb.Embed(stale.Body), "feature-hash-v0"); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}

	adapter := NewVectorAdapter("docs-vector", emb, st, 2*time.Second)
	if adapter.Size() != 1 {
		t.Errorf("Size = %d, want 1 (stale version skipped)", adapter.Size())
	}
}

// TestStructuredRetrieve verifies term-fraction scoring against the
// document table.
func TestStructuredRetrieve(t *testing.T) {
	st := newTestStorage(t)
	docs := []storage.Document{
		{ID: "d1", Title: "Bridge networks", Body: "Docker containers share a bridge network.", Attribute: "networking", CreatedAt: time.Now()},
		{ID: "d2", Title: "Volumes", Body: "Volumes persist data.", Attribute: "storage", CreatedAt: time.Now()},
	}
	for _, doc := range docs {
		if err := st.InsertDocument(doc); err != nil {
			t.Fatalf("InsertDocument failed: %v", err)
		}
	}

	adapter := NewStructuredAdapter("docs-structured", st, 2*time.Second)
	snippets, err := adapter.Retrieve(context.Background(), "docker bridge network containers", 10)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(snippets) != 1 {
		t.Fatalf("Expected 1 matching snippet, got %d", len(snippets))
	}
	if snippets[0].Relevance != 1.0 {
		t.Errorf("Relevance = %v, want 1.0 when all terms match", snippets[0].Relevance)
	}
	if snippets[0].Provenance != ProvenanceStructured {
		t.Errorf("Provenance = %v", snippets[0].Provenance)
	}
}

// TestIngestJSONLines verifies the ingest path feeds all three
// backends and skips malformed lines.
func TestIngestJSONLines(t *testing.T) {
	st := newTestStorage(t)
	emb := FeatureHashEmbedder{}

	fulltext, err := NewFulltextAdapter("docs-fulltext", 2*time.Second)
	if err != nil {
		t.Fatalf("NewFulltextAdapter failed: %v", err)
	}
	defer fulltext.Close()
	vector := NewVectorAdapter("docs-vector", emb, st, 2*time.Second)

	input := strings.Join([]string{
		`{"id": "d1", "title": "Docker", "body": "Containers share a bridge network."}`,
		`not json at all`,
		`{"title": "No id", "body": "Gets a generated id."}`,
		`{"id": "d3", "title": "Empty body"}`,
	}, "\n")

	ingestor := NewIngestor(st, fulltext, vector, emb)
	count, err := ingestor.IngestJSONLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("IngestJSONLines failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Ingested %d documents, want 2", count)
	}

	docs, err := st.AllDocuments()
	if err != nil {
		t.Fatalf("AllDocuments failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Stored %d documents, want 2", len(docs))
	}
	indexed, err := fulltext.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if indexed != 2 {
		t.Errorf("Indexed %d documents, want 2", indexed)
	}
	if vector.Size() != 2 {
		t.Errorf("Vector holds %d documents, want 2", vector.Size())
	}

	embeddings, err := st.AllEmbeddings()
	if err != nil {
		t.Fatalf("AllEmbeddings failed: %v", err)
	}
	if len(embeddings) != 2 {
		t.Errorf("Cached %d embeddings, want 2", len(embeddings))
	}
}

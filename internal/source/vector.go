package source

import (
	"context"
	"hash/fnv"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/khanglvm/knowledge-router/internal/storage"
)

// EmbedderVersion tags cached vectors so a changed embedder invalidates
// them at ingest time.
const EmbedderVersion = "feature-hash-v1"

// embeddingDim is the dimensionality of the feature-hash embedding.
const embeddingDim = 256

// Embedder turns text into a vector. The default is a deterministic
// local feature-hash embedder so the query path never makes an external
// call; a model-backed implementation can be slotted in.
type Embedder interface {
	Embed(text string) []float32
	Version() string
}

// FeatureHashEmbedder hashes tokens into a fixed-size vector,
// L2-normalized. Deterministic and allocation-light.
type FeatureHashEmbedder struct{}

// Embed maps text to a normalized embeddingDim-dimensional vector.
func (FeatureHashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, embeddingDim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?\"'()[]{}")
		if len(token) < 2 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		idx := sum % embeddingDim
		// Half the hash space contributes negatively, spreading tokens
		// across both directions of each axis.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Version returns the embedder version tag.
func (FeatureHashEmbedder) Version() string { return EmbedderVersion }

// VectorAdapter retrieves snippets by cosine similarity between the
// query embedding and cached document embeddings. Vectors live in
// memory, loaded from the storage embedding cache.
type VectorAdapter struct {
	id       string
	embedder Embedder
	timeout  time.Duration

	mu   sync.RWMutex
	docs map[string]vectorDoc
}

type vectorDoc struct {
	text   string
	vector []float32
}

// NewVectorAdapter creates a vector adapter, loading cached embeddings
// and their documents from storage. Load failures degrade to an empty
// adapter with a warning.
func NewVectorAdapter(id string, embedder Embedder, st storage.Storage, timeout time.Duration) *VectorAdapter {
	a := &VectorAdapter{
		id:       id,
		embedder: embedder,
		timeout:  timeout,
		docs:     make(map[string]vectorDoc),
	}

	embeddings, err := st.AllEmbeddings()
	if err != nil {
		log.Printf("Warning: failed to load embeddings for source %s: %v", id, err)
		return a
	}
	documents, err := st.AllDocuments()
	if err != nil {
		log.Printf("Warning: failed to load documents for source %s: %v", id, err)
		return a
	}

	bodies := make(map[string]string, len(documents))
	for _, doc := range documents {
		bodies[doc.ID] = doc.Body
	}
	for _, emb := range embeddings {
		if emb.Version != embedder.Version() {
			continue
		}
		body, ok := bodies[emb.DocID]
		if !ok {
			continue
		}
		a.docs[emb.DocID] = vectorDoc{text: body, vector: emb.Vector}
	}
	return a
}

// ID returns the configured source identifier.
func (a *VectorAdapter) ID() string { return a.id }

// Provenance returns ProvenanceVector.
func (a *VectorAdapter) Provenance() Provenance { return ProvenanceVector }

// Add registers a document vector in memory (ingest path).
func (a *VectorAdapter) Add(docID, text string, vector []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs[docID] = vectorDoc{text: text, vector: vector}
}

// Size returns the number of held vectors.
func (a *VectorAdapter) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.docs)
}

// Retrieve embeds the query and ranks documents by cosine similarity.
// Similarity is clamped to [0,1] (negative similarity means irrelevant).
func (a *VectorAdapter) Retrieve(ctx context.Context, queryText string, topK int) ([]Snippet, error) {
	if topK <= 0 {
		topK = 10
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	queryVec := a.embedder.Embed(queryText)

	a.mu.RLock()
	defer a.mu.RUnlock()

	type scored struct {
		docID string
		text  string
		score float64
	}
	results := make([]scored, 0, len(a.docs))
	for docID, doc := range a.docs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		sim := cosineSimilarity(queryVec, doc.vector)
		if sim <= 0 {
			continue
		}
		results = append(results, scored{docID: docID, text: doc.text, score: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].docID < results[j].docID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	snippets := make([]Snippet, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, Snippet{
			ContentHash: ContentHash(r.text),
			Text:        r.text,
			SourceID:    a.id,
			Relevance:   clamp01(r.score),
			Provenance:  ProvenanceVector,
		})
	}
	return snippets, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// EmbeddingFunc turns text into a vector; chromem's signature so provider
// embedders (e.g. chromem.NewEmbeddingFuncOllama) plug in directly.
type EmbeddingFunc = chromem.EmbeddingFunc

const deterministicEmbeddingDims = 256

// NewDeterministicEmbedding returns a local, provider-free embedding:
// a normalized hashed bag-of-words vector. Token overlap maps to cosine
// similarity, which is enough for recall over short memory snippets when
// no embedding model is configured.
func NewDeterministicEmbedding() EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, deterministicEmbeddingDims)
		tokens := strings.Fields(strings.ToLower(text))
		for _, token := range tokens {
			h := fnv.New32a()
			_, _ = h.Write([]byte(token))
			vec[h.Sum32()%deterministicEmbeddingDims]++
		}
		// CJK text rarely contains spaces; hash per rune as well so
		// overlapping characters still contribute.
		for _, r := range text {
			h := fnv.New32a()
			_, _ = h.Write([]byte(string(r)))
			vec[h.Sum32()%deterministicEmbeddingDims]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}

// NewOllamaEmbedding embeds through an Ollama-compatible /api/embeddings
// endpoint.
func NewOllamaEmbedding(model, baseURL string) EmbeddingFunc {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "http://127.0.0.1:11434"
	}
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}
	return chromem.NewEmbeddingFuncOllama(model, base)
}

// ChromemEngine is the vector-backed memory provider: one chromem
// collection per namespace, optionally persisted to disk.
type ChromemEngine struct {
	db    *chromem.DB
	embed EmbeddingFunc

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemEngine opens the vector store. persistPath empty keeps data
// in process memory; embed nil uses the deterministic local embedding.
func NewChromemEngine(persistPath string, embed EmbeddingFunc) (*ChromemEngine, error) {
	if embed == nil {
		embed = NewDeterministicEmbedding()
	}
	var (
		db  *chromem.DB
		err error
	)
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "memory.chromem"), false)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemEngine{
		db:          db,
		embed:       embed,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (e *ChromemEngine) collection(namespace string) (*chromem.Collection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.collections[namespace]; ok {
		return c, nil
	}
	c, err := e.db.GetOrCreateCollection(namespace, nil, e.embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", namespace, err)
	}
	e.collections[namespace] = c
	return c, nil
}

func (e *ChromemEngine) Add(ctx context.Context, namespace, text string, metadata map[string]any) (string, error) {
	c, err := e.collection(namespace)
	if err != nil {
		return "", err
	}
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = fmt.Sprint(v)
	}
	id := uuid.NewString()
	if err := c.AddDocument(ctx, chromem.Document{ID: id, Content: text, Metadata: meta}); err != nil {
		return "", fmt.Errorf("add memory: %w", err)
	}
	return id, nil
}

func (e *ChromemEngine) Search(ctx context.Context, namespace, query string, k int) ([]Record, error) {
	c, err := e.collection(namespace)
	if err != nil {
		return nil, err
	}
	count := c.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	results, err := c.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	records := make([]Record, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for key, value := range r.Metadata {
			meta[key] = value
		}
		records = append(records, Record{
			ID:       r.ID,
			Text:     r.Content,
			Score:    float64(r.Similarity),
			Metadata: meta,
		})
	}
	return records, nil
}

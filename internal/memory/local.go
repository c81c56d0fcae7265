package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LocalEngine is the lexical test fallback: a namespace-keyed list with
// substring/token scoring. Deployments use ChromemEngine; this engine
// exists for fixtures that want fully predictable scores.
type LocalEngine struct {
	mu    sync.RWMutex
	items map[string][]Record
	cap   int
}

// NewLocalEngine returns an engine keeping at most capPerNamespace items
// per namespace (0 means unbounded).
func NewLocalEngine(capPerNamespace int) *LocalEngine {
	return &LocalEngine{items: make(map[string][]Record), cap: capPerNamespace}
}

func (e *LocalEngine) Add(_ context.Context, namespace, text string, metadata map[string]any) (string, error) {
	record := Record{ID: uuid.NewString(), Text: text, Metadata: metadata}

	e.mu.Lock()
	defer e.mu.Unlock()
	items := append(e.items[namespace], record)
	if e.cap > 0 && len(items) > e.cap {
		items = items[len(items)-e.cap:]
	}
	e.items[namespace] = items
	return record.ID, nil
}

func (e *LocalEngine) Search(_ context.Context, namespace, query string, k int) ([]Record, error) {
	e.mu.RLock()
	items := e.items[namespace]
	e.mu.RUnlock()

	scored := make([]Record, 0, len(items))
	for _, item := range items {
		score := lexicalScore(query, item.Text)
		if score <= 0 {
			continue
		}
		item.Score = score
		scored = append(scored, item)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// lexicalScore approximates relevance: full-substring match dominates,
// otherwise the fraction of query tokens present in the text.
func lexicalScore(query, text string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(text)
	if q == "" {
		return 0
	}
	if strings.Contains(t, q) {
		return 1.0
	}
	tokens := strings.Fields(q)
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, token := range tokens {
		if strings.Contains(t, token) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens)) * 0.9
}

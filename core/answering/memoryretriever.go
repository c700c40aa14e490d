package answering

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryRetriever is an in-process cosine-similarity index. It is meant
// for single-instance deployments and tests; pgvector serves the shared
// knowledge-base case.
type MemoryRetriever struct {
	embedder Embedder

	mu   sync.RWMutex
	docs []memoryDoc
}

type memoryDoc struct {
	id      string
	content string
	vector  []float32
}

func NewMemoryRetriever(embedder Embedder) *MemoryRetriever {
	return &MemoryRetriever{embedder: embedder}
}

// Add embeds and indexes a passage.
func (r *MemoryRetriever) Add(ctx context.Context, id, content string) error {
	vector, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}

	r.mu.Lock()
	r.docs = append(r.docs, memoryDoc{id: id, content: content, vector: vector})
	r.mu.Unlock()
	return nil
}

func (r *MemoryRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	r.mu.RLock()
	results := make([]Document, 0, len(r.docs))
	for _, doc := range r.docs {
		results = append(results, Document{
			ID:      doc.id,
			Content: doc.content,
			Score:   cosineSimilarity(queryVector, doc.vector),
		})
	}
	r.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

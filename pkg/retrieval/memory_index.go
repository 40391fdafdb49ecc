package retrieval

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force in-process index.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]memoryEntry
}

type memoryEntry struct {
	doc       Document
	embedding []float32
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]memoryEntry)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, doc Document, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = memoryEntry{doc: doc, embedding: append([]float32(nil), embedding...)}
	return nil
}

func (m *MemoryIndex) DeleteSource(ctx context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.docs {
		if e.doc.Source == source {
			delete(m.docs, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	m.mu.RLock()
	results := make([]Result, 0, len(m.docs))
	for _, e := range m.docs {
		results = append(results, Result{
			ID:        e.doc.ID,
			Source:    e.doc.Source,
			Content:   e.doc.Content,
			Score:     cosine(embedding, e.embedding),
			UpdatedAt: e.doc.UpdatedAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func (m *MemoryIndex) Close() error {
	return nil
}

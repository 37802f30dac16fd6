package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/freightdesk/contract-agent/embeddings"
)

type memoryEntry struct {
	id     string
	text   string
	vector []float32
	meta   Metadata
}

// Memory is a brute-force in-memory index. Adds embed outside the lock and
// append under it, so concurrent searches never observe a partial write.
type Memory struct {
	embedder embeddings.Embedder

	mu      sync.RWMutex
	entries []memoryEntry
}

func NewMemory(embedder embeddings.Embedder) *Memory {
	return &Memory{embedder: embedder}
}

func (m *Memory) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if m.embedder == nil {
		return fmt.Errorf("embedder is not configured")
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}

	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(entries) {
		return fmt.Errorf("embedding count mismatch: have %d chunks, %d vectors", len(entries), len(vectors))
	}

	stored := make([]memoryEntry, len(entries))
	for i, entry := range entries {
		stored[i] = memoryEntry{
			id:     entryID(entry.Metadata),
			text:   entry.Text,
			vector: vectors[i],
			meta:   entry.Metadata,
		}
	}

	replaced := make(map[string]struct{}, 1)
	for _, document := range batchDocuments(entries) {
		replaced[document] = struct{}{}
	}

	m.mu.Lock()
	// Drop the previous version of each re-added document before appending.
	kept := m.entries[:0]
	for _, entry := range m.entries {
		if _, ok := replaced[entry.meta.Document]; ok {
			continue
		}
		kept = append(kept, entry)
	}
	m.entries = append(kept, stored...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Search(ctx context.Context, query string, topK int, filter *Filter) ([]Result, error) {
	if topK <= 0 {
		topK = 4
	}

	m.mu.RLock()
	empty := len(m.entries) == 0
	m.mu.RUnlock()
	if empty {
		return []Result{}, nil
	}

	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	queryVec := vectors[0]

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Result, 0, len(m.entries))
	for _, entry := range m.entries {
		if !filter.Matches(entry.meta) {
			continue
		}
		results = append(results, Result{
			ID:       entry.id,
			Text:     entry.text,
			Metadata: entry.meta,
			Score:    dot(entry.vector, queryVec),
		})
	}

	// Stable sort keeps equal scores in insertion order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

var _ Index = (*Memory)(nil)

package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

type entry struct {
	version  int64
	vector   []float32
	category model.Category
}

// MemoryIndex is the brute-force cosine backend used under the sqlite
// dialect. Every entry lives in a map guarded by one RWMutex, the same
// coarse-locking style the teacher uses for its in-process client caches
// (e.g. sync.Map over AgentClient) — acceptable here because a single node's
// live-record count is expected to stay in the tens of thousands, not
// millions (spec.md §9 Non-goals: no sharding).
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[model.ID]entry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[model.ID]entry)}
}

func (m *MemoryIndex) Upsert(_ context.Context, id model.ID, version int64, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.entries[id]
	existing.version = version
	existing.vector = append([]float32(nil), vector...)
	m.entries[id] = existing
	return nil
}

// SetCategory records the category an id belongs to, so Search can filter
// without round-tripping to storage. Called by memory.Store alongside Upsert.
func (m *MemoryIndex) SetCategory(id model.ID, category model.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.category = category
	m.entries[id] = e
}

func (m *MemoryIndex) Remove(_ context.Context, id model.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, query []float32, k int, category model.Category) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.entries))
	for id, e := range m.entries {
		if category != "" && e.category != category {
			continue
		}
		matches = append(matches, Match{ID: id, Version: e.version, Score: cosineSimilarity(query, e.vector)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryIndex) Rebuild(_ context.Context, records []model.EmbeddingRecord, categoryOf func(model.ID) model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[model.ID]entry, len(records))
	for _, r := range records {
		m.entries[r.ID] = entry{version: r.Version, vector: r.Vector, category: categoryOf(r.ID)}
	}
	return nil
}

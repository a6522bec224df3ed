package store

import (
	"context"
	"sync"

	"pglobe/pkg/model"
)

// MemoryStore is the in-memory NodeStore, intended for dev and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*model.NodeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]*model.NodeRecord)}
}

func (m *MemoryStore) UpsertNode(_ context.Context, rec *model.NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[Key(rec)] = rec.Clone()
	return nil
}

func (m *MemoryStore) UpsertNodes(ctx context.Context, recs []*model.NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.nodes[Key(rec)] = rec.Clone()
	}
	return nil
}

func (m *MemoryStore) GetNode(_ context.Context, key string) (*model.NodeRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.nodes[key]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *MemoryStore) ListNodes(_ context.Context) ([]*model.NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.NodeRecord, 0, len(m.nodes))
	for _, rec := range m.nodes {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

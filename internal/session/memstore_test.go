package session

import (
	"context"
	"maps"
	"sync"

	"github.com/fpang/seetrue/internal/store"
)

// memStore is an in-process store.HistoryStore for session tests.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]store.JobRecord
}

var _ store.HistoryStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]store.JobRecord)}
}

func (m *memStore) PutJob(_ context.Context, rec *store.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[rec.Key] = cloneRecord(*rec)
	return nil
}

func (m *memStore) GetJob(_ context.Context, key string) (*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[key]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (m *memStore) DeleteJob(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, key)
	return nil
}

func cloneRecord(rec store.JobRecord) store.JobRecord {
	if rec.Batches == nil {
		return rec
	}
	batches := make([]store.BatchRecord, len(rec.Batches))
	for i, b := range rec.Batches {
		b.Measures = maps.Clone(b.Measures)
		batches[i] = b
	}
	rec.Batches = batches
	return rec
}

package store

import (
	"context"
	"sort"
	"sync"

	"keyforge/pkg/contracts/domain"
)

// Memory is an in-process Store for tests and dry runs
type Memory struct {
	mu    sync.RWMutex
	keys  map[string]domain.KeyRecord
	users map[string]domain.UserRecord
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		keys:  make(map[string]domain.KeyRecord),
		users: make(map[string]domain.UserRecord),
	}
}

func (m *Memory) CreateKey(_ context.Context, rec domain.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[rec.Key]; ok {
		return &CallError{Op: "create_key", Kind: FailureQuery, Err: ErrDuplicate}
	}
	m.keys[rec.Key] = rec
	return nil
}

func (m *Memory) QueryKeys(_ context.Context, filter domain.KeyFilter) ([]domain.KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]domain.KeyRecord, 0, len(m.keys))
	for _, rec := range m.keys {
		if filter.Matches(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].Key < recs[j].Key
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

func (m *Memory) PatchKey(_ context.Context, key string, patch domain.KeyPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.keys[key]; ok {
		rec.Used = patch.Used
		m.keys[key] = rec
	}
	return nil
}

func (m *Memory) DeleteKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	return nil
}

func (m *Memory) CreateUser(_ context.Context, rec domain.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[rec.UserID]; ok {
		return &CallError{Op: "create_user", Kind: FailureQuery, Err: ErrDuplicate}
	}
	m.users[rec.UserID] = rec
	return nil
}

func (m *Memory) QueryUsers(_ context.Context, filter domain.UserFilter) ([]domain.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]domain.UserRecord, 0, len(m.users))
	for _, rec := range m.users {
		if filter.Matches(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].RegisteredAt.Equal(recs[j].RegisteredAt) {
			return recs[i].UserID < recs[j].UserID
		}
		return recs[i].RegisteredAt.Before(recs[j].RegisteredAt)
	})
	return recs, nil
}

func (m *Memory) DeleteUser(_ context.Context, hwid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.users {
		if rec.HWID == hwid {
			delete(m.users, id)
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

package journey

import (
	"context"
	"sort"
	"sync"

	"schoolrun/internal/apperr"
	"schoolrun/internal/types"
)

// MemoryStore is an in-process Store with the same versioning rules as FirestoreStore.
type MemoryStore struct {
	mu       sync.Mutex
	journeys map[types.ID]*Journey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{journeys: make(map[types.ID]*Journey)}
}

func (m *MemoryStore) Create(_ context.Context, j *Journey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.journeys[j.ID]; ok {
		return apperr.New(apperr.ErrDuplicate, "journey %s already exists", j.ID)
	}
	m.journeys[j.ID] = j.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Journey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.journeys[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "journey %s", id)
	}
	return j.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, j *Journey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.journeys[j.ID]
	if !ok {
		return apperr.New(apperr.ErrNotFound, "journey %s", j.ID)
	}
	if cur.Version != j.Version {
		return apperr.New(apperr.ErrConflict, "journey %s changed (version %d, have %d)", j.ID, cur.Version, j.Version)
	}
	j.Version++
	m.journeys[j.ID] = j.clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Journey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Journey
	for _, j := range m.journeys {
		if f.DriverID != "" && j.DriverID != f.DriverID {
			continue
		}
		if f.ChildID != "" && j.child(f.ChildID) < 0 {
			continue
		}
		if f.Date != "" && j.Date != f.Date {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j.clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

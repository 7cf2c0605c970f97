package enrollment

import (
	"context"
	"sync"
	"time"

	"schoolrun/internal/apperr"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/types"
)

// MemoryStore keeps requests in process and assigns children in the given directory.
// Admission holds one lock across the count and the assignment.
type MemoryStore struct {
	mu       sync.Mutex
	dir      *directory.Memory
	requests map[types.ID]*Request
}

func NewMemoryStore(dir *directory.Memory) *MemoryStore {
	return &MemoryStore{dir: dir, requests: make(map[types.ID]*Request)}
}

func (m *MemoryStore) CreateRequest(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return apperr.New(apperr.ErrDuplicate, "enrollment request %s exists", r.ID)
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "enrollment request %s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) HasPending(_ context.Context, childID, driverID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.ChildID == childID && r.DriverID == driverID && r.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) AdmitChild(ctx context.Context, requestID types.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.pending(requestID)
	if err != nil {
		return err
	}
	child, err := m.dir.Child(ctx, r.ChildID)
	if err != nil {
		return err
	}
	if child.Enrolled() {
		return apperr.New(apperr.ErrInvalidStatus, "child %s is already enrolled", r.ChildID)
	}
	vehicle, err := m.dir.Vehicle(ctx, r.DriverID)
	if err != nil {
		return err
	}
	enrolled, err := m.dir.EnrolledChildren(ctx, r.DriverID)
	if err != nil {
		return err
	}
	if len(enrolled) >= vehicle.Capacity {
		return apperr.New(apperr.ErrCapacityExceeded, "vehicle of %s holds %d of %d", r.DriverID, len(enrolled), vehicle.Capacity)
	}
	child.DriverID = r.DriverID
	m.dir.PutChild(*child)
	r.Status = StatusAccepted
	r.ResolvedAt = &at
	return nil
}

func (m *MemoryStore) Reject(_ context.Context, requestID types.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.pending(requestID)
	if err != nil {
		return err
	}
	r.Status = StatusRejected
	r.ResolvedAt = &at
	return nil
}

func (m *MemoryStore) pending(id types.ID) (*Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "enrollment request %s", id)
	}
	if r.Status != StatusPending {
		return nil, apperr.New(apperr.ErrInvalidStatus, "enrollment request %s is %s", id, r.Status)
	}
	return r, nil
}

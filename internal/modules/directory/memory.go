package directory

import (
	"context"
	"sort"
	"sync"

	"schoolrun/internal/apperr"
	"schoolrun/internal/types"
)

// Memory is an in-process Reader used by tests and local simulation.
type Memory struct {
	mu       sync.RWMutex
	children map[types.ID]Child
	parents  map[types.ID]Parent
	schools  map[types.ID]School
	vehicles map[types.ID]Vehicle
	tokens   map[types.ID]string
}

func NewMemory() *Memory {
	return &Memory{
		children: make(map[types.ID]Child),
		parents:  make(map[types.ID]Parent),
		schools:  make(map[types.ID]School),
		vehicles: make(map[types.ID]Vehicle),
		tokens:   make(map[types.ID]string),
	}
}

func (m *Memory) PutChild(c Child) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[c.ID] = c
}

func (m *Memory) PutParent(p Parent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[p.ID] = p
}

func (m *Memory) PutSchool(s School) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schools[s.ID] = s
}

func (m *Memory) PutVehicle(v Vehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.DriverID] = v
}

func (m *Memory) SetDeviceToken(userID types.ID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
}

func (m *Memory) Vehicle(_ context.Context, driverID types.ID) (*Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[driverID]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "vehicles/%s", driverID)
	}
	return &v, nil
}

func (m *Memory) Child(_ context.Context, id types.ID) (*Child, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.children[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "children/%s", id)
	}
	return &c, nil
}

func (m *Memory) EnrolledChildren(_ context.Context, driverID types.ID) ([]Child, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Child
	for _, c := range m.children {
		if c.DriverID == driverID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ParentLocation(_ context.Context, parentID types.ID) (types.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parents[parentID]
	if !ok {
		return types.Point{}, apperr.New(apperr.ErrNotFound, "parents/%s", parentID)
	}
	return p.Location, nil
}

func (m *Memory) SchoolLocation(_ context.Context, schoolID types.ID) (types.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schools[schoolID]
	if !ok {
		return types.Point{}, apperr.New(apperr.ErrNotFound, "schools/%s", schoolID)
	}
	return s.Location, nil
}

func (m *Memory) DeviceToken(_ context.Context, userID types.ID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[userID], nil
}

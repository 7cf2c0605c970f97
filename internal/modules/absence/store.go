package absence

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolrun/internal/apperr"
	"schoolrun/internal/types"
)

const absencesCollection = "absences"

type Store interface {
	// Create fails with ErrDuplicate when the child already has an absence on that date.
	Create(ctx context.Context, a Absence) error
	// Delete fails with ErrNotFound when there is nothing to remove.
	Delete(ctx context.Context, childID types.ID, date types.Date) error
	Absent(ctx context.Context, childID types.ID, date types.Date) (bool, error)
}

type absenceDoc struct {
	ChildID   string    `firestore:"childId"`
	Date      string    `firestore:"date"`
	Reason    string    `firestore:"reason"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type FirestoreStore struct {
	fs *firestore.Client
}

func NewFirestoreStore(fs *firestore.Client) *FirestoreStore {
	return &FirestoreStore{fs: fs}
}

func (s *FirestoreStore) Create(ctx context.Context, a Absence) error {
	ref := s.fs.Collection(absencesCollection).Doc(DocID(a.ChildID, a.Date))
	_, err := ref.Create(ctx, absenceDoc{
		ChildID:   string(a.ChildID),
		Date:      string(a.Date),
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt,
	})
	if status.Code(err) == codes.AlreadyExists {
		return apperr.New(apperr.ErrDuplicate, "absence already recorded for %s on %s", a.ChildID, a.Date)
	}
	return apperr.Database("absence.create", err)
}

func (s *FirestoreStore) Delete(ctx context.Context, childID types.ID, date types.Date) error {
	ref := s.fs.Collection(absencesCollection).Doc(DocID(childID, date))
	_, err := ref.Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return apperr.New(apperr.ErrNotFound, "no absence for %s on %s", childID, date)
	}
	return apperr.Database("absence.delete", err)
}

func (s *FirestoreStore) Absent(ctx context.Context, childID types.ID, date types.Date) (bool, error) {
	_, err := s.fs.Collection(absencesCollection).Doc(DocID(childID, date)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, apperr.Database("absence.get", err)
	}
	return true, nil
}

// MemoryStore keeps absences in process.
type MemoryStore struct {
	mu       sync.Mutex
	absences map[string]Absence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{absences: make(map[string]Absence)}
}

func (m *MemoryStore) Create(_ context.Context, a Absence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := DocID(a.ChildID, a.Date)
	if _, ok := m.absences[id]; ok {
		return apperr.New(apperr.ErrDuplicate, "absence already recorded for %s on %s", a.ChildID, a.Date)
	}
	m.absences[id] = a
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, childID types.ID, date types.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := DocID(childID, date)
	if _, ok := m.absences[id]; !ok {
		return apperr.New(apperr.ErrNotFound, "no absence for %s on %s", childID, date)
	}
	delete(m.absences, id)
	return nil
}

func (m *MemoryStore) Absent(_ context.Context, childID types.ID, date types.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.absences[DocID(childID, date)]
	return ok, nil
}

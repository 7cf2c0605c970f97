// README: Journey persistence: Firestore documents with optimistic versioning, plus a Postgres event log.
package journey

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolrun/internal/apperr"
	"schoolrun/internal/modules/routing"
	"schoolrun/internal/types"
)

const journeysCollection = "journeys"

// Filter narrows List; zero fields are ignored.
type Filter struct {
	DriverID types.ID
	ChildID  types.ID
	Date     types.Date
	Status   Status
}

type Store interface {
	// Create fails with ErrDuplicate when the id already exists.
	Create(ctx context.Context, j *Journey) error
	Get(ctx context.Context, id types.ID) (*Journey, error)
	// Update writes j if the stored version still equals j.Version, then bumps j.Version.
	// A lost race fails with ErrConflict.
	Update(ctx context.Context, j *Journey) error
	List(ctx context.Context, f Filter) ([]*Journey, error)
}

type EventLog interface {
	AppendEvent(ctx context.Context, e *Event) error
}

type childDoc struct {
	ChildID         string       `firestore:"childId"`
	ParentID        string       `firestore:"parentId"`
	SchoolID        string       `firestore:"schoolId"`
	Status          string       `firestore:"status"`
	StatusUpdatedAt *time.Time   `firestore:"statusUpdatedAt"`
	Location        *types.Point `firestore:"location"`
}

type journeyDoc struct {
	DriverID              string             `firestore:"driverId"`
	JourneyType           string             `firestore:"journeyType"`
	Date                  string             `firestore:"date"`
	Status                string             `firestore:"status"`
	Version               int                `firestore:"version"`
	StartLocation         types.Point        `firestore:"startLocation"`
	Stops                 []routing.StopDoc  `firestore:"stops"`
	Children              []childDoc         `firestore:"children"`
	ChildIDs              []string           `firestore:"childIds"`
	BaselineETAs          map[string]float64 `firestore:"baselineEtas"`
	StartTime             *time.Time         `firestore:"startTime"`
	EndTime               *time.Time         `firestore:"endTime"`
	ActualDurationMinutes *float64           `firestore:"actualDurationMinutes"`
	CreatedAt             time.Time          `firestore:"createdAt"`
	UpdatedAt             time.Time          `firestore:"updatedAt"`
}

func toDoc(j *Journey) journeyDoc {
	d := journeyDoc{
		DriverID:              string(j.DriverID),
		JourneyType:           string(j.Type),
		Date:                  string(j.Date),
		Status:                string(j.Status),
		Version:               j.Version,
		StartLocation:         j.StartLocation,
		Stops:                 make([]routing.StopDoc, len(j.Stops)),
		Children:              make([]childDoc, len(j.Children)),
		ChildIDs:              make([]string, len(j.Children)),
		StartTime:             j.StartTime,
		EndTime:               j.EndTime,
		ActualDurationMinutes: j.ActualDurationMinutes,
		CreatedAt:             j.CreatedAt,
		UpdatedAt:             j.UpdatedAt,
	}
	for i, s := range j.Stops {
		d.Stops[i] = s.Doc()
	}
	for i, c := range j.Children {
		d.Children[i] = childDoc{
			ChildID:         string(c.ChildID),
			ParentID:        string(c.ParentID),
			SchoolID:        string(c.SchoolID),
			Status:          string(c.Status),
			StatusUpdatedAt: c.StatusUpdatedAt,
			Location:        c.Location,
		}
		d.ChildIDs[i] = string(c.ChildID)
	}
	if j.BaselineETAs != nil {
		d.BaselineETAs = make(map[string]float64, len(j.BaselineETAs))
		for k, v := range j.BaselineETAs {
			d.BaselineETAs[string(k)] = v
		}
	}
	return d
}

func fromDoc(id string, d journeyDoc) (*Journey, error) {
	j := &Journey{
		ID:                    types.ID(id),
		DriverID:              types.ID(d.DriverID),
		Type:                  routing.JourneyType(d.JourneyType),
		Date:                  types.Date(d.Date),
		Status:                Status(d.Status),
		Version:               d.Version,
		StartLocation:         d.StartLocation,
		Stops:                 make([]routing.Stop, len(d.Stops)),
		Children:              make([]ChildEntry, len(d.Children)),
		StartTime:             d.StartTime,
		EndTime:               d.EndTime,
		ActualDurationMinutes: d.ActualDurationMinutes,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
	for i, sd := range d.Stops {
		s, err := sd.Stop()
		if err != nil {
			return nil, err
		}
		j.Stops[i] = s
	}
	for i, c := range d.Children {
		j.Children[i] = ChildEntry{
			ChildID:         types.ID(c.ChildID),
			ParentID:        types.ID(c.ParentID),
			SchoolID:        types.ID(c.SchoolID),
			Status:          ChildStatus(c.Status),
			StatusUpdatedAt: c.StatusUpdatedAt,
			Location:        c.Location,
		}
	}
	if d.BaselineETAs != nil {
		j.BaselineETAs = make(map[types.ID]float64, len(d.BaselineETAs))
		for k, v := range d.BaselineETAs {
			j.BaselineETAs[types.ID(k)] = v
		}
	}
	return j, nil
}

type FirestoreStore struct {
	fs *firestore.Client
}

func NewFirestoreStore(fs *firestore.Client) *FirestoreStore {
	return &FirestoreStore{fs: fs}
}

func (s *FirestoreStore) Create(ctx context.Context, j *Journey) error {
	_, err := s.fs.Collection(journeysCollection).Doc(string(j.ID)).Create(ctx, toDoc(j))
	if status.Code(err) == codes.AlreadyExists {
		return apperr.New(apperr.ErrDuplicate, "journey %s already exists", j.ID)
	}
	return apperr.Database("journey.create", err)
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Journey, error) {
	snap, err := s.fs.Collection(journeysCollection).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, apperr.New(apperr.ErrNotFound, "journey %s", id)
	}
	if err != nil {
		return nil, apperr.Database("journey.get", err)
	}
	return decode(snap)
}

func (s *FirestoreStore) Update(ctx context.Context, j *Journey) error {
	ref := s.fs.Collection(journeysCollection).Doc(string(j.ID))
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return apperr.New(apperr.ErrNotFound, "journey %s", j.ID)
		}
		if err != nil {
			return err
		}
		var cur journeyDoc
		if err := snap.DataTo(&cur); err != nil {
			return err
		}
		if cur.Version != j.Version {
			return apperr.New(apperr.ErrConflict, "journey %s changed (version %d, have %d)", j.ID, cur.Version, j.Version)
		}
		doc := toDoc(j)
		doc.Version = j.Version + 1
		return tx.Set(ref, doc)
	})
	if err != nil {
		return apperr.Database("journey.update", err)
	}
	j.Version++
	return nil
}

func (s *FirestoreStore) List(ctx context.Context, f Filter) ([]*Journey, error) {
	q := s.fs.Collection(journeysCollection).Query
	if f.DriverID != "" {
		q = q.Where("driverId", "==", string(f.DriverID))
	}
	if f.ChildID != "" {
		q = q.Where("childIds", "array-contains", string(f.ChildID))
	}
	if f.Date != "" {
		q = q.Where("date", "==", string(f.Date))
	}
	if f.Status != "" {
		q = q.Where("status", "==", string(f.Status))
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, apperr.Database("journey.list", err)
	}
	out := make([]*Journey, 0, len(docs))
	for _, d := range docs {
		j, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func decode(snap *firestore.DocumentSnapshot) (*Journey, error) {
	var d journeyDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, apperr.Database("journey.decode", err)
	}
	j, err := fromDoc(snap.Ref.ID, d)
	if err != nil {
		return nil, apperr.Database("journey.decode", err)
	}
	return j, nil
}

// PGEventLog appends transitions to the journey_events table.
type PGEventLog struct {
	db *pgxpool.Pool
}

func NewPGEventLog(db *pgxpool.Pool) *PGEventLog {
	return &PGEventLog{db: db}
}

func (l *PGEventLog) AppendEvent(ctx context.Context, e *Event) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO journey_events (
			journey_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.JourneyID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

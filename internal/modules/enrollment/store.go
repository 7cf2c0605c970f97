// README: Enrollment persistence. Admission re-counts the driver's children inside a Firestore transaction.
package enrollment

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolrun/internal/apperr"
	"schoolrun/internal/types"
)

const (
	requestsCollection = "enrollment_requests"
	childrenCollection = "children"
	vehiclesCollection = "vehicles"
)

type Store interface {
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id types.ID) (*Request, error)
	HasPending(ctx context.Context, childID, driverID types.ID) (bool, error)
	// AdmitChild assigns the child to the driver and accepts the request in one
	// atomic step, failing with ErrCapacityExceeded when the vehicle is full.
	AdmitChild(ctx context.Context, requestID types.ID, at time.Time) error
	// Reject moves a pending request to rejected.
	Reject(ctx context.Context, requestID types.ID, at time.Time) error
}

type requestDoc struct {
	ChildID    string     `firestore:"childId"`
	DriverID   string     `firestore:"driverId"`
	ParentID   string     `firestore:"parentId"`
	Status     string     `firestore:"status"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	ResolvedAt *time.Time `firestore:"resolvedAt"`
}

func (d requestDoc) request(id string) *Request {
	return &Request{
		ID:         types.ID(id),
		ChildID:    types.ID(d.ChildID),
		DriverID:   types.ID(d.DriverID),
		ParentID:   types.ID(d.ParentID),
		Status:     Status(d.Status),
		CreatedAt:  d.CreatedAt,
		ResolvedAt: d.ResolvedAt,
	}
}

type FirestoreStore struct {
	fs *firestore.Client
}

func NewFirestoreStore(fs *firestore.Client) *FirestoreStore {
	return &FirestoreStore{fs: fs}
}

func (s *FirestoreStore) CreateRequest(ctx context.Context, r *Request) error {
	_, err := s.fs.Collection(requestsCollection).Doc(string(r.ID)).Create(ctx, requestDoc{
		ChildID:   string(r.ChildID),
		DriverID:  string(r.DriverID),
		ParentID:  string(r.ParentID),
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
	})
	if status.Code(err) == codes.AlreadyExists {
		return apperr.New(apperr.ErrDuplicate, "enrollment request %s exists", r.ID)
	}
	return apperr.Database("enrollment.create", err)
}

func (s *FirestoreStore) GetRequest(ctx context.Context, id types.ID) (*Request, error) {
	snap, err := s.fs.Collection(requestsCollection).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, apperr.New(apperr.ErrNotFound, "enrollment request %s", id)
	}
	if err != nil {
		return nil, apperr.Database("enrollment.get", err)
	}
	var d requestDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, apperr.Database("enrollment.decode", err)
	}
	return d.request(snap.Ref.ID), nil
}

func (s *FirestoreStore) HasPending(ctx context.Context, childID, driverID types.ID) (bool, error) {
	docs, err := s.fs.Collection(requestsCollection).
		Where("childId", "==", string(childID)).
		Where("driverId", "==", string(driverID)).
		Where("status", "==", string(StatusPending)).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return false, apperr.Database("enrollment.pending", err)
	}
	return len(docs) > 0, nil
}

func (s *FirestoreStore) AdmitChild(ctx context.Context, requestID types.ID, at time.Time) error {
	reqRef := s.fs.Collection(requestsCollection).Doc(string(requestID))
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		req, err := pendingRequest(tx, reqRef)
		if err != nil {
			return err
		}

		childRef := s.fs.Collection(childrenCollection).Doc(req.ChildID)
		childSnap, err := tx.Get(childRef)
		if status.Code(err) == codes.NotFound {
			return apperr.New(apperr.ErrNotFound, "child %s", req.ChildID)
		}
		if err != nil {
			return err
		}
		if assigned, _ := childSnap.DataAt("driverId"); assigned != nil && assigned != "" {
			return apperr.New(apperr.ErrInvalidStatus, "child %s is already enrolled", req.ChildID)
		}

		vehicleSnap, err := tx.Get(s.fs.Collection(vehiclesCollection).Doc(req.DriverID))
		if status.Code(err) == codes.NotFound {
			return apperr.New(apperr.ErrNotFound, "vehicle for driver %s", req.DriverID)
		}
		if err != nil {
			return err
		}
		var vehicle struct {
			Capacity int `firestore:"capacity"`
		}
		if err := vehicleSnap.DataTo(&vehicle); err != nil {
			return err
		}

		enrolled, err := tx.Documents(s.fs.Collection(childrenCollection).Where("driverId", "==", req.DriverID)).GetAll()
		if err != nil {
			return err
		}
		if len(enrolled) >= vehicle.Capacity {
			return apperr.New(apperr.ErrCapacityExceeded, "vehicle of %s holds %d of %d", req.DriverID, len(enrolled), vehicle.Capacity)
		}

		if err := tx.Update(childRef, []firestore.Update{{Path: "driverId", Value: req.DriverID}}); err != nil {
			return err
		}
		return tx.Update(reqRef, []firestore.Update{
			{Path: "status", Value: string(StatusAccepted)},
			{Path: "resolvedAt", Value: at},
		})
	})
	return apperr.Database("enrollment.admit", err)
}

func (s *FirestoreStore) Reject(ctx context.Context, requestID types.ID, at time.Time) error {
	reqRef := s.fs.Collection(requestsCollection).Doc(string(requestID))
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := pendingRequest(tx, reqRef); err != nil {
			return err
		}
		return tx.Update(reqRef, []firestore.Update{
			{Path: "status", Value: string(StatusRejected)},
			{Path: "resolvedAt", Value: at},
		})
	})
	return apperr.Database("enrollment.reject", err)
}

func pendingRequest(tx *firestore.Transaction, ref *firestore.DocumentRef) (requestDoc, error) {
	var d requestDoc
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return d, apperr.New(apperr.ErrNotFound, "enrollment request %s", ref.ID)
	}
	if err != nil {
		return d, err
	}
	if err := snap.DataTo(&d); err != nil {
		return d, err
	}
	if Status(d.Status) != StatusPending {
		return d, apperr.New(apperr.ErrInvalidStatus, "enrollment request %s is %s", ref.ID, d.Status)
	}
	return d, nil
}

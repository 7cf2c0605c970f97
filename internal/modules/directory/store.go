// README: Firestore-backed directory reads.
package directory

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolrun/internal/apperr"
	"schoolrun/internal/types"
)

// Reader is what the journey, absence and enrollment modules need from the directory.
type Reader interface {
	Vehicle(ctx context.Context, driverID types.ID) (*Vehicle, error)
	Child(ctx context.Context, id types.ID) (*Child, error)
	EnrolledChildren(ctx context.Context, driverID types.ID) ([]Child, error)
	ParentLocation(ctx context.Context, parentID types.ID) (types.Point, error)
	SchoolLocation(ctx context.Context, schoolID types.ID) (types.Point, error)
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

type Store struct {
	fs *firestore.Client
}

func NewStore(fs *firestore.Client) *Store {
	return &Store{fs: fs}
}

func (s *Store) Vehicle(ctx context.Context, driverID types.ID) (*Vehicle, error) {
	var v Vehicle
	if err := s.get(ctx, vehiclesCollection, driverID, &v); err != nil {
		return nil, err
	}
	v.DriverID = driverID
	return &v, nil
}

func (s *Store) Child(ctx context.Context, id types.ID) (*Child, error) {
	var c Child
	if err := s.get(ctx, childrenCollection, id, &c); err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

// EnrolledChildren returns the driver's children ordered by id, so route input order is stable.
func (s *Store) EnrolledChildren(ctx context.Context, driverID types.ID) ([]Child, error) {
	docs, err := s.fs.Collection(childrenCollection).Where("driverId", "==", string(driverID)).Documents(ctx).GetAll()
	if err != nil {
		return nil, apperr.Database("directory.enrolled_children", err)
	}
	out := make([]Child, 0, len(docs))
	for _, d := range docs {
		var c Child
		if err := d.DataTo(&c); err != nil {
			return nil, apperr.Database("directory.enrolled_children", err)
		}
		c.ID = types.ID(d.Ref.ID)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ParentLocation(ctx context.Context, parentID types.ID) (types.Point, error) {
	var p Parent
	if err := s.get(ctx, parentsCollection, parentID, &p); err != nil {
		return types.Point{}, err
	}
	return p.Location, nil
}

func (s *Store) SchoolLocation(ctx context.Context, schoolID types.ID) (types.Point, error) {
	var sc School
	if err := s.get(ctx, schoolsCollection, schoolID, &sc); err != nil {
		return types.Point{}, err
	}
	return sc.Location, nil
}

// DeviceToken returns "" for users without a registered device.
func (s *Store) DeviceToken(ctx context.Context, userID types.ID) (string, error) {
	var u user
	err := s.get(ctx, usersCollection, userID, &u)
	if err != nil {
		return "", err
	}
	return u.DeviceToken, nil
}

func (s *Store) get(ctx context.Context, collection string, id types.ID, dst interface{}) error {
	if id == "" {
		return apperr.New(apperr.ErrValidation, "%s id is required", collection)
	}
	snap, err := s.fs.Collection(collection).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return apperr.New(apperr.ErrNotFound, "%s/%s", collection, id)
	}
	if err != nil {
		return apperr.Database(fmt.Sprintf("directory.get %s", collection), err)
	}
	if err := snap.DataTo(dst); err != nil {
		return apperr.Database(fmt.Sprintf("directory.decode %s", collection), err)
	}
	return nil
}

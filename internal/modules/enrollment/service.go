// README: Enrollment admission: parents request a driver, drivers accept within vehicle capacity.
package enrollment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"schoolrun/internal/apperr"
	"schoolrun/internal/keylock"
	"schoolrun/internal/metrics"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/notify"
	"schoolrun/internal/types"
)

type Service struct {
	store    Store
	dir      directory.Reader
	notifier *notify.Notifier
	metrics  *metrics.Collector
	drivers  *keylock.Locker
	now      func() time.Time
}

func NewService(store Store, dir directory.Reader, notifier *notify.Notifier, m *metrics.Collector) *Service {
	return &Service{
		store:    store,
		dir:      dir,
		notifier: notifier,
		metrics:  m,
		drivers:  keylock.New(),
		now:      time.Now,
	}
}

type RequestCommand struct {
	ChildID  types.ID
	DriverID types.ID
	ParentID types.ID
}

type DecideCommand struct {
	RequestID types.ID
	DriverID  types.ID
}

func (s *Service) Request(ctx context.Context, cmd RequestCommand) (*Request, error) {
	if cmd.ChildID == "" || cmd.DriverID == "" || cmd.ParentID == "" {
		return nil, apperr.New(apperr.ErrValidation, "childId, driverId and parentId are required")
	}
	child, err := s.dir.Child(ctx, cmd.ChildID)
	if err != nil {
		return nil, err
	}
	if child.ParentID != cmd.ParentID {
		return nil, apperr.New(apperr.ErrForbidden, "child %s does not belong to %s", cmd.ChildID, cmd.ParentID)
	}
	if child.Enrolled() {
		return nil, apperr.New(apperr.ErrValidation, "child %s is already enrolled with a driver", cmd.ChildID)
	}
	vehicle, err := s.dir.Vehicle(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.HasPending(ctx, cmd.ChildID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, apperr.New(apperr.ErrDuplicate, "a pending request already exists for %s with %s", cmd.ChildID, cmd.DriverID)
	}
	// Early answer for a full vehicle; Accept re-checks atomically.
	enrolled, err := s.dir.EnrolledChildren(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if len(enrolled) >= vehicle.Capacity {
		return nil, apperr.New(apperr.ErrCapacityExceeded, "vehicle of %s is full", cmd.DriverID)
	}

	r := &Request{
		ID:        types.ID(uuid.NewString()),
		ChildID:   cmd.ChildID,
		DriverID:  cmd.DriverID,
		ParentID:  cmd.ParentID,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateRequest(ctx, r); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"request_id": r.ID, "child_id": r.ChildID, "driver_id": r.DriverID}).Info("enrollment requested")
	return r, nil
}

// Accept admits the child if the vehicle still has room. Accepts for one driver
// run one at a time in this process; the store transaction covers other processes.
func (s *Service) Accept(ctx context.Context, cmd DecideCommand) (*Request, error) {
	r, err := s.addressed(ctx, cmd)
	if err != nil {
		return nil, err
	}

	unlock := s.drivers.Lock(string(cmd.DriverID))
	defer unlock()

	now := s.now().UTC()
	if err := s.store.AdmitChild(ctx, r.ID, now); err != nil {
		if errors.Is(err, apperr.ErrCapacityExceeded) {
			s.metrics.Enrollment("capacity_exceeded")
		}
		return nil, err
	}
	s.metrics.Enrollment("accepted")
	r.Status = StatusAccepted
	r.ResolvedAt = &now

	s.notifier.Notify(ctx, notify.Notification{
		UserID:  r.ParentID,
		Type:    notify.EnrollmentAccepted,
		Message: "Your enrollment request was accepted.",
		Data:    map[string]string{"requestId": string(r.ID), "childId": string(r.ChildID), "driverId": string(r.DriverID)},
	})
	return r, nil
}

func (s *Service) Reject(ctx context.Context, cmd DecideCommand) (*Request, error) {
	r, err := s.addressed(ctx, cmd)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.store.Reject(ctx, r.ID, now); err != nil {
		return nil, err
	}
	s.metrics.Enrollment("rejected")
	r.Status = StatusRejected
	r.ResolvedAt = &now

	s.notifier.Notify(ctx, notify.Notification{
		UserID:  r.ParentID,
		Type:    notify.EnrollmentRejected,
		Message: "Your enrollment request was declined.",
		Data:    map[string]string{"requestId": string(r.ID), "childId": string(r.ChildID), "driverId": string(r.DriverID)},
	})
	return r, nil
}

// addressed loads a pending request sent to the given driver.
func (s *Service) addressed(ctx context.Context, cmd DecideCommand) (*Request, error) {
	if cmd.RequestID == "" || cmd.DriverID == "" {
		return nil, apperr.New(apperr.ErrValidation, "requestId and driverId are required")
	}
	r, err := s.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != cmd.DriverID {
		return nil, apperr.New(apperr.ErrForbidden, "request %s is addressed to another driver", r.ID)
	}
	if r.Status != StatusPending {
		return nil, apperr.New(apperr.ErrInvalidStatus, "request %s is %s", r.ID, r.Status)
	}
	return r, nil
}

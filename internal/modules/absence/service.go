// README: Absence coordinator: records absences, reroutes scheduled journeys and announces earlier arrivals.
package absence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"schoolrun/internal/apperr"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/modules/journey"
	"schoolrun/internal/notify"
	"schoolrun/internal/types"
)

// DefaultThreshold is the smallest ETA improvement announced to a parent.
const DefaultThreshold = 10 * time.Minute

// Journeys is the journey engine surface used for rerouting.
type Journeys interface {
	ScheduledWithChild(ctx context.Context, childID types.ID, date types.Date) ([]*journey.Journey, error)
	ScheduledForDriver(ctx context.Context, driverID types.ID, date types.Date) ([]*journey.Journey, error)
	RemoveChild(ctx context.Context, journeyID, childID types.ID) (*journey.Reroute, error)
	AddChild(ctx context.Context, journeyID, childID types.ID) (*journey.Reroute, error)
}

type Children interface {
	Child(ctx context.Context, id types.ID) (*directory.Child, error)
}

type Service struct {
	store     Store
	journeys  Journeys
	children  Children
	notifier  *notify.Notifier
	threshold time.Duration
	now       func() time.Time
}

func NewService(store Store, journeys Journeys, children Children, notifier *notify.Notifier, threshold time.Duration) *Service {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Service{
		store:     store,
		journeys:  journeys,
		children:  children,
		notifier:  notifier,
		threshold: threshold,
		now:       time.Now,
	}
}

type MarkCommand struct {
	ChildID types.ID
	Date    types.Date
	Reason  string
	// ParentID, when set, must own the child.
	ParentID types.ID
}

type CancelCommand struct {
	ChildID  types.ID
	Date     types.Date
	ParentID types.ID
}

func (s *Service) MarkAbsent(ctx context.Context, cmd MarkCommand) (*Summary, error) {
	date, err := s.validate(ctx, cmd.ChildID, cmd.Date, cmd.ParentID)
	if err != nil {
		return nil, err
	}
	a := Absence{ChildID: cmd.ChildID, Date: date, Reason: cmd.Reason, CreatedAt: s.now().UTC()}
	created := s.store.Create(ctx, a)
	if created != nil && !errors.Is(created, apperr.ErrDuplicate) {
		return nil, created
	}

	sum := &Summary{Absence: a, AffectedJourneys: []types.ID{}, Notifications: []Notice{}}
	scheduled, err := s.journeys.ScheduledWithChild(ctx, cmd.ChildID, date)
	if err != nil {
		return nil, err
	}
	// A repeated mark resumes an earlier one whose reroute failed part way.
	// Once no scheduled journey carries the child the absence is fully applied.
	if created != nil {
		if len(scheduled) == 0 {
			return nil, created
		}
		logrus.WithField("child_id", cmd.ChildID).Info("absence already recorded; resuming reroute")
	}
	for _, j := range scheduled {
		log := logrus.WithFields(logrus.Fields{"journey_id": j.ID, "child_id": cmd.ChildID})
		rr, err := s.journeys.RemoveChild(ctx, j.ID, cmd.ChildID)
		if errors.Is(err, apperr.ErrInvalidStatus) {
			log.Info("journey started before the absence was recorded; route left as is")
			continue
		}
		if err != nil {
			return nil, err
		}
		sum.AffectedJourneys = append(sum.AffectedJourneys, j.ID)
		if rr.Current == nil || rr.Previous == nil {
			log.Warn("ETA unavailable; early arrival check skipped")
			sum.ETAUnavailable = append(sum.ETAUnavailable, j.ID)
			continue
		}
		sum.Notifications = append(sum.Notifications, s.announceEarlyArrivals(ctx, rr)...)
	}
	return sum, nil
}

// announceEarlyArrivals notifies the parent of every remaining child whose ETA
// improved by at least the threshold.
func (s *Service) announceEarlyArrivals(ctx context.Context, rr *journey.Reroute) []Notice {
	var sent []Notice
	for _, c := range rr.Journey.Children {
		before, ok := rr.Previous[c.ChildID]
		if !ok {
			continue
		}
		after, ok := rr.Current[c.ChildID]
		if !ok {
			continue
		}
		delta := before - after
		if delta < s.threshold.Minutes() {
			continue
		}
		ok = s.notifier.Notify(ctx, notify.Notification{
			UserID:  c.ParentID,
			Type:    notify.EarlyArrival,
			Message: fmt.Sprintf("The driver will arrive about %.0f minutes earlier than planned.", delta),
			Data: map[string]string{
				"journeyId":    string(rr.Journey.ID),
				"childId":      string(c.ChildID),
				"deltaMinutes": strconv.FormatFloat(delta, 'f', 1, 64),
			},
		})
		if ok {
			sent = append(sent, Notice{ParentID: c.ParentID, ChildID: c.ChildID, JourneyID: rr.Journey.ID, DeltaMinutes: delta})
		}
	}
	return sent
}

// CancelAbsence puts the child back on the driver's scheduled journeys for that
// date and then removes the record. A failed reroute leaves the record in place so
// the cancel can be retried. No notifications are sent.
func (s *Service) CancelAbsence(ctx context.Context, cmd CancelCommand) (*Summary, error) {
	date, err := s.validate(ctx, cmd.ChildID, cmd.Date, cmd.ParentID)
	if err != nil {
		return nil, err
	}
	child, err := s.children.Child(ctx, cmd.ChildID)
	if err != nil {
		return nil, err
	}
	absent, err := s.store.Absent(ctx, cmd.ChildID, date)
	if err != nil {
		return nil, err
	}
	if !absent {
		return nil, apperr.New(apperr.ErrNotFound, "no absence recorded for %s on %s", cmd.ChildID, date)
	}

	sum := &Summary{Absence: Absence{ChildID: cmd.ChildID, Date: date}, AffectedJourneys: []types.ID{}, Notifications: []Notice{}}
	if child.Enrolled() {
		scheduled, err := s.journeys.ScheduledForDriver(ctx, child.DriverID, date)
		if err != nil {
			return nil, err
		}
		for _, j := range scheduled {
			if carries(j, cmd.ChildID) {
				continue
			}
			if _, err := s.journeys.AddChild(ctx, j.ID, cmd.ChildID); err != nil {
				if errors.Is(err, apperr.ErrInvalidStatus) {
					continue
				}
				return nil, err
			}
			sum.AffectedJourneys = append(sum.AffectedJourneys, j.ID)
		}
	}

	if err := s.store.Delete(ctx, cmd.ChildID, date); err != nil {
		return nil, err
	}
	return sum, nil
}

func carries(j *journey.Journey, childID types.ID) bool {
	for _, c := range j.Children {
		if c.ChildID == childID {
			return true
		}
	}
	return false
}

func (s *Service) validate(ctx context.Context, childID types.ID, date types.Date, parentID types.ID) (types.Date, error) {
	if childID == "" {
		return "", apperr.New(apperr.ErrValidation, "child id is required")
	}
	d, err := types.ParseDate(string(date))
	if err != nil {
		return "", apperr.New(apperr.ErrValidation, "%v", err)
	}
	if parentID == "" {
		return d, nil
	}
	child, err := s.children.Child(ctx, childID)
	if err != nil {
		return "", err
	}
	if child.ParentID != parentID {
		return "", apperr.New(apperr.ErrForbidden, "child %s does not belong to %s", childID, parentID)
	}
	return d, nil
}

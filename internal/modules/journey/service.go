// README: Journey engine: lifecycle transitions, child status, geofence arrivals and route regeneration.
package journey

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"schoolrun/internal/apperr"
	"schoolrun/internal/geo"
	"schoolrun/internal/keylock"
	"schoolrun/internal/metrics"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/modules/location"
	"schoolrun/internal/modules/routing"
	"schoolrun/internal/notify"
	"schoolrun/internal/types"
)

// maxAttempts bounds retries after an optimistic write loses a race.
const maxAttempts = 3

// Tracker is the part of the location service the engine drives.
type Tracker interface {
	Update(ctx context.Context, driverID types.ID, p types.Point) (location.Sample, error)
	RegisterGeofences(ctx context.Context, journeyID types.ID, fences []location.Geofence) error
	CheckGeofences(ctx context.Context, journeyID types.ID, p types.Point) ([]location.GeofenceCheck, error)
	RetireGeofences(ctx context.Context, journeyID types.ID, ids ...string) error
	ClearGeofences(ctx context.Context, journeyID types.ID) error
}

// Absences reports whether a child has an absence recorded for a date.
type Absences interface {
	Absent(ctx context.Context, childID types.ID, date types.Date) (bool, error)
}

type Deps struct {
	Store     Store
	Directory directory.Reader
	Routes    *routing.Builder
	ETA       routing.ETASource
	Tracker   Tracker
	Absences  Absences
	Notifier  *notify.Notifier
	Events    EventLog
	Metrics   *metrics.Collector
	// GeofenceRadius is the radius registered per stop; <= 0 uses the tracker default.
	GeofenceRadius float64
	Now            func() time.Time
}

type Service struct {
	store    Store
	dir      directory.Reader
	routes   *routing.Builder
	eta      routing.ETASource
	tracker  Tracker
	absences Absences
	notifier *notify.Notifier
	events   EventLog
	metrics  *metrics.Collector
	radius   float64
	now      func() time.Time
	drivers  *keylock.Locker
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		store:    d.Store,
		dir:      d.Directory,
		routes:   d.Routes,
		eta:      d.ETA,
		tracker:  d.Tracker,
		absences: d.Absences,
		notifier: d.Notifier,
		events:   d.Events,
		metrics:  d.Metrics,
		radius:   d.GeofenceRadius,
		now:      d.Now,
		drivers:  keylock.New(),
	}
}

type CreateCommand struct {
	DriverID types.ID
	Type     routing.JourneyType
	// Date defaults to the current day when empty.
	Date types.Date
	// AllowEmpty creates the journey even when every child is absent or none are enrolled.
	AllowEmpty bool
}

type StartCommand struct {
	JourneyID types.ID
	DriverID  types.ID
	// StartLocation overrides the vehicle start when set.
	StartLocation *types.Point
}

type ChildStatusCommand struct {
	JourneyID types.ID
	DriverID  types.ID
	ChildID   types.ID
	Status    ChildStatus
	Location  *types.Point
}

type EndCommand struct {
	JourneyID types.ID
	DriverID  types.ID
}

// Arrival is a stop completed by a location update.
type Arrival struct {
	JourneyID types.ID     `json:"journeyId"`
	StopIndex int          `json:"stopIndex"`
	Kind      routing.Kind `json:"kind"`
	ChildIDs  []types.ID   `json:"childIds"`
}

type LocationResult struct {
	Sample   location.Sample `json:"sample"`
	Arrivals []Arrival       `json:"arrivals"`
}

// Reroute reports the baselines before and after a regeneration. Current is nil when
// no ETA could be computed.
type Reroute struct {
	Journey  *Journey
	Previous map[types.ID]float64
	Current  map[types.ID]float64
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Journey, error) {
	if id == "" {
		return nil, apperr.New(apperr.ErrValidation, "journey id is required")
	}
	return s.store.Get(ctx, id)
}

// ScheduledWithChild lists scheduled journeys on date that carry the child.
func (s *Service) ScheduledWithChild(ctx context.Context, childID types.ID, date types.Date) ([]*Journey, error) {
	return s.store.List(ctx, Filter{ChildID: childID, Date: date, Status: StatusScheduled})
}

// ScheduledForDriver lists the driver's scheduled journeys on date.
func (s *Service) ScheduledForDriver(ctx context.Context, driverID types.ID, date types.Date) ([]*Journey, error) {
	return s.store.List(ctx, Filter{DriverID: driverID, Date: date, Status: StatusScheduled})
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Journey, error) {
	if cmd.DriverID == "" {
		return nil, apperr.New(apperr.ErrValidation, "driver id is required")
	}
	if !cmd.Type.Valid() {
		return nil, apperr.New(apperr.ErrValidation, "unknown journey type %q", cmd.Type)
	}
	date := types.DateOf(s.now())
	if cmd.Date != "" {
		parsed, err := types.ParseDate(string(cmd.Date))
		if err != nil {
			return nil, apperr.New(apperr.ErrValidation, "%v", err)
		}
		date = parsed
	}
	id := JourneyID(cmd.DriverID, date, cmd.Type)
	log := logrus.WithFields(logrus.Fields{"journey_id": id, "driver_id": cmd.DriverID})

	if _, err := s.store.Get(ctx, id); err == nil {
		return nil, apperr.New(apperr.ErrDuplicate, "journey %s already exists", id)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	present, err := s.presentChildren(ctx, cmd.DriverID, date)
	if err != nil {
		return nil, err
	}
	if len(present) == 0 {
		if !cmd.AllowEmpty {
			return nil, apperr.New(apperr.ErrNoChildrenAssigned, "driver %s has no children present on %s", cmd.DriverID, date)
		}
		log.Warn("creating journey without children")
	}

	route, err := s.routes.Build(ctx, cmd.DriverID, present, cmd.Type)
	if err != nil {
		return nil, err
	}
	baseline, err := s.baseline(ctx, id, route)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	j := &Journey{
		ID:            id,
		DriverID:      cmd.DriverID,
		Type:          cmd.Type,
		Date:          date,
		Status:        StatusScheduled,
		StartLocation: route.StartLocation,
		Stops:         route.Stops,
		Children:      make([]ChildEntry, 0, len(present)),
		BaselineETAs:  baseline,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, c := range present {
		j.Children = append(j.Children, ChildEntry{
			ChildID:  c.ID,
			ParentID: c.ParentID,
			SchoolID: c.SchoolID,
			Status:   ChildPending,
		})
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, j.ID, StatusNone, StatusScheduled, "driver", &cmd.DriverID)
	log.WithFields(logrus.Fields{"stops": len(j.Stops), "distance_m": int(route.TotalDistance())}).Info("journey created")
	return j, nil
}

func (s *Service) presentChildren(ctx context.Context, driverID types.ID, date types.Date) ([]directory.Child, error) {
	enrolled, err := s.dir.EnrolledChildren(ctx, driverID)
	if err != nil {
		return nil, err
	}
	present := make([]directory.Child, 0, len(enrolled))
	for _, c := range enrolled {
		if s.absences != nil {
			absent, err := s.absences.Absent(ctx, c.ID, date)
			if err != nil {
				return nil, err
			}
			if absent {
				continue
			}
		}
		present = append(present, c)
	}
	return present, nil
}

// baseline computes arrival minutes for the route. An unavailable ETA service
// yields a nil map rather than an error.
func (s *Service) baseline(ctx context.Context, id types.ID, route *routing.Route) (map[types.ID]float64, error) {
	if s.eta == nil || len(route.Stops) == 0 {
		return nil, nil
	}
	etas, err := routing.Arrivals(ctx, s.eta, route)
	if errors.Is(err, apperr.ErrETAUnavailable) {
		logrus.WithField("journey_id", id).WithError(err).Warn("baseline ETAs unavailable")
		return nil, nil
	}
	return etas, err
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Journey, error) {
	j, err := s.owned(ctx, cmd.JourneyID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(j.Status, StatusInProgress) {
		return nil, apperr.New(apperr.ErrInvalidStatus, "cannot start journey in status %s", j.Status)
	}
	start := j.StartLocation
	if cmd.StartLocation != nil {
		if !geo.Valid(*cmd.StartLocation) {
			return nil, apperr.New(apperr.ErrValidation, "invalid start location")
		}
		start = *cmd.StartLocation
	}

	if err := s.tracker.RegisterGeofences(ctx, j.ID, s.fences(j)); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	from := j.Status
	j.Status = StatusInProgress
	j.StartTime = &now
	j.StartLocation = start
	j.UpdatedAt = now
	if err := s.store.Update(ctx, j); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, j.ID, from, StatusInProgress, "driver", &j.DriverID)

	log := logrus.WithField("journey_id", j.ID)
	if _, err := s.tracker.Update(ctx, j.DriverID, start); err != nil {
		log.WithError(err).Warn("initial location sample failed")
	}
	for _, parentID := range parentsOf(j.Children) {
		s.notifier.Notify(ctx, notify.Notification{
			UserID:  parentID,
			Type:    notify.JourneyStarted,
			Message: journeyStartedMessage(j.Type),
			Data:    map[string]string{"journeyId": string(j.ID), "driverId": string(j.DriverID)},
		})
	}
	log.Info("journey started")
	return j, nil
}

func (s *Service) fences(j *Journey) []location.Geofence {
	fences := make([]location.Geofence, 0, len(j.Stops))
	for i, st := range j.Stops {
		if st.Completed {
			continue
		}
		fences = append(fences, location.Geofence{ID: fenceID(i), Center: st.Location, RadiusMeters: s.radius})
	}
	return fences
}

func (s *Service) UpdateChildStatus(ctx context.Context, cmd ChildStatusCommand) (*Journey, error) {
	if !cmd.Status.Valid() {
		return nil, apperr.New(apperr.ErrValidation, "invalid child status %q", cmd.Status)
	}
	if cmd.Location != nil && !geo.Valid(*cmd.Location) {
		return nil, apperr.New(apperr.ErrValidation, "invalid location")
	}
	j, err := s.owned(ctx, cmd.JourneyID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	idx := j.child(cmd.ChildID)
	if idx < 0 {
		return nil, apperr.New(apperr.ErrChildNotInJourney, "child %s is not on journey %s", cmd.ChildID, j.ID)
	}
	if j.Status == StatusCompleted {
		return nil, apperr.New(apperr.ErrInvalidStatus, "journey %s is completed", j.ID)
	}

	now := s.now().UTC()
	entry := &j.Children[idx]
	entry.Status = cmd.Status
	entry.StatusUpdatedAt = &now
	if cmd.Location != nil {
		loc := *cmd.Location
		entry.Location = &loc
	}
	j.UpdatedAt = now
	if err := s.store.Update(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) End(ctx context.Context, cmd EndCommand) (*Journey, error) {
	j, err := s.owned(ctx, cmd.JourneyID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(j.Status, StatusCompleted) {
		return nil, apperr.New(apperr.ErrInvalidStatus, "cannot end journey in status %s", j.Status)
	}

	now := s.now().UTC()
	from := j.Status
	j.Status = StatusCompleted
	j.EndTime = &now
	if j.StartTime != nil {
		minutes := math.Round(now.Sub(*j.StartTime).Minutes()*10) / 10
		j.ActualDurationMinutes = &minutes
	}
	j.UpdatedAt = now
	if err := s.store.Update(ctx, j); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, j.ID, from, StatusCompleted, "driver", &j.DriverID)

	if err := s.tracker.ClearGeofences(ctx, j.ID); err != nil {
		logrus.WithField("journey_id", j.ID).WithError(err).Warn("clearing geofences failed")
	}
	logrus.WithField("journey_id", j.ID).Info("journey completed")
	return j, nil
}

// HandleLocationUpdate stores the sample and completes every stop whose geofence
// now contains the driver. Updates for one driver are applied one at a time;
// parents are notified after the driver's lock is released.
func (s *Service) HandleLocationUpdate(ctx context.Context, driverID types.ID, p types.Point) (*LocationResult, error) {
	res, reached, err := s.applyLocation(ctx, driverID, p)
	if err != nil {
		return nil, err
	}
	for _, r := range reached {
		for _, a := range r.arrivals {
			s.notifyArrival(ctx, r.journey, a)
		}
	}
	return res, nil
}

// reached pairs a journey snapshot with the arrivals recorded on it.
type reached struct {
	journey  *Journey
	arrivals []Arrival
}

func (s *Service) applyLocation(ctx context.Context, driverID types.ID, p types.Point) (*LocationResult, []reached, error) {
	unlock := s.drivers.Lock(string(driverID))
	defer unlock()

	sample, err := s.tracker.Update(ctx, driverID, p)
	if err != nil {
		return nil, nil, err
	}
	res := &LocationResult{Sample: sample, Arrivals: []Arrival{}}

	active, err := s.store.List(ctx, Filter{DriverID: driverID, Status: StatusInProgress})
	if err != nil {
		return nil, nil, err
	}
	var out []reached
	for _, j := range active {
		updated, arrivals, err := s.detectArrivals(ctx, j, p)
		if err != nil {
			return nil, nil, err
		}
		if len(arrivals) == 0 {
			continue
		}
		res.Arrivals = append(res.Arrivals, arrivals...)
		out = append(out, reached{journey: updated, arrivals: arrivals})
	}
	return res, out, nil
}

func (s *Service) detectArrivals(ctx context.Context, j *Journey, p types.Point) (*Journey, []Arrival, error) {
	checks, err := s.tracker.CheckGeofences(ctx, j.ID, p)
	if err != nil {
		return nil, nil, err
	}
	inside := make(map[string]bool, len(checks))
	for _, c := range checks {
		if c.Inside {
			inside[c.ID] = true
		}
	}
	if len(inside) == 0 {
		return nil, nil, nil
	}

	var arrivals []Arrival
	for attempt := 1; ; attempt++ {
		arrivals = completeStops(j, inside, s.now().UTC())
		if len(arrivals) == 0 {
			return nil, nil, nil
		}
		err = s.store.Update(ctx, j)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt == maxAttempts {
			return nil, nil, err
		}
		if j, err = s.store.Get(ctx, j.ID); err != nil {
			return nil, nil, err
		}
		if j.Status != StatusInProgress {
			return nil, nil, nil
		}
	}

	ids := make([]string, len(arrivals))
	for i, a := range arrivals {
		ids[i] = fenceID(a.StopIndex)
	}
	if err := s.tracker.RetireGeofences(ctx, j.ID, ids...); err != nil {
		logrus.WithField("journey_id", j.ID).WithError(err).Warn("retiring geofences failed")
	}

	for _, a := range arrivals {
		s.metrics.Arrival(string(a.Kind))
	}
	return j, arrivals, nil
}

// completeStops marks every pending stop inside a fence as completed and moves its
// children to the status the stop implies. Completed stops are skipped.
func completeStops(j *Journey, inside map[string]bool, now time.Time) []Arrival {
	var arrivals []Arrival
	for i := range j.Stops {
		st := &j.Stops[i]
		if st.Completed || !inside[fenceID(i)] {
			continue
		}
		at := now
		st.Completed = true
		st.CompletedAt = &at

		kind := st.Visit.Kind()
		next := arrivalStatus(kind)
		var kids []types.ID
		for _, childID := range st.Visit.Children() {
			idx := j.child(childID)
			if idx < 0 {
				continue
			}
			j.Children[idx].Status = next
			j.Children[idx].StatusUpdatedAt = &at
			kids = append(kids, childID)
		}
		arrivals = append(arrivals, Arrival{JourneyID: j.ID, StopIndex: i, Kind: kind, ChildIDs: kids})
	}
	if len(arrivals) > 0 {
		j.UpdatedAt = now
	}
	return arrivals
}

// notifyArrival sends one notification per parent with children at the stop.
func (s *Service) notifyArrival(ctx context.Context, j *Journey, a Arrival) {
	typ := arrivalNotification(a.Kind)
	byParent := make(map[types.ID][]string)
	var order []types.ID
	for _, childID := range a.ChildIDs {
		parentID := j.Children[j.child(childID)].ParentID
		if _, ok := byParent[parentID]; !ok {
			order = append(order, parentID)
		}
		byParent[parentID] = append(byParent[parentID], string(childID))
	}
	for _, parentID := range order {
		s.notifier.Notify(ctx, notify.Notification{
			UserID:  parentID,
			Type:    typ,
			Message: arrivalMessage(typ),
			Data: map[string]string{
				"journeyId": string(j.ID),
				"childIds":  strings.Join(byParent[parentID], ","),
				"stopKind":  string(a.Kind),
			},
		})
	}
}

// RemoveChild drops the child from a scheduled journey and rebuilds its route.
func (s *Service) RemoveChild(ctx context.Context, journeyID, childID types.ID) (*Reroute, error) {
	return s.regenerate(ctx, journeyID, func(j *Journey) (bool, error) {
		idx := j.child(childID)
		if idx < 0 {
			return false, nil
		}
		j.Children = append(j.Children[:idx], j.Children[idx+1:]...)
		return true, nil
	})
}

// AddChild puts an enrolled child back on a scheduled journey and rebuilds its route.
// Children stay ordered by id, matching the order Create reads them in.
func (s *Service) AddChild(ctx context.Context, journeyID, childID types.ID) (*Reroute, error) {
	child, err := s.dir.Child(ctx, childID)
	if err != nil {
		return nil, err
	}
	return s.regenerate(ctx, journeyID, func(j *Journey) (bool, error) {
		if child.DriverID != j.DriverID {
			return false, apperr.New(apperr.ErrValidation, "child %s is not enrolled with driver %s", childID, j.DriverID)
		}
		if j.child(childID) >= 0 {
			return false, nil
		}
		j.Children = append(j.Children, ChildEntry{
			ChildID:  child.ID,
			ParentID: child.ParentID,
			SchoolID: child.SchoolID,
			Status:   ChildPending,
		})
		sort.SliceStable(j.Children, func(a, b int) bool { return j.Children[a].ChildID < j.Children[b].ChildID })
		return true, nil
	})
}

// regenerate applies edit to the children of a scheduled journey, rebuilds the
// route and re-snapshots the baseline ETAs. Only scheduled journeys qualify:
// stop order is frozen once a journey starts.
func (s *Service) regenerate(ctx context.Context, journeyID types.ID, edit func(*Journey) (bool, error)) (*Reroute, error) {
	for attempt := 1; ; attempt++ {
		j, err := s.store.Get(ctx, journeyID)
		if err != nil {
			return nil, err
		}
		if j.Status != StatusScheduled {
			return nil, apperr.New(apperr.ErrInvalidStatus, "journey %s is %s; only scheduled journeys are rerouted", j.ID, j.Status)
		}
		changed, err := edit(j)
		if err != nil {
			return nil, err
		}
		previous := j.BaselineETAs
		if !changed {
			return &Reroute{Journey: j, Previous: previous, Current: previous}, nil
		}

		route, err := s.routes.Build(ctx, j.DriverID, routeInput(j.Children), j.Type)
		if err != nil {
			return nil, err
		}
		current, err := s.baseline(ctx, j.ID, route)
		if err != nil {
			return nil, err
		}

		j.Stops = route.Stops
		j.StartLocation = route.StartLocation
		if current != nil {
			j.BaselineETAs = current
		} else {
			j.BaselineETAs = keepPresent(previous, j.Children)
		}
		j.UpdatedAt = s.now().UTC()

		err = s.store.Update(ctx, j)
		if err == nil {
			s.metrics.Reroute()
			logrus.WithFields(logrus.Fields{
				"journey_id": j.ID,
				"stops":      len(j.Stops),
				"distance_m": int(route.TotalDistance()),
			}).Info("journey rerouted")
			return &Reroute{Journey: j, Previous: previous, Current: current}, nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt == maxAttempts {
			return nil, err
		}
	}
}

// owned loads the journey and, when driverID is set, checks that the driver owns it.
func (s *Service) owned(ctx context.Context, journeyID, driverID types.ID) (*Journey, error) {
	j, err := s.Get(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if driverID != "" && j.DriverID != driverID {
		return nil, apperr.New(apperr.ErrForbidden, "journey %s belongs to another driver", j.ID)
	}
	return j, nil
}

func (s *Service) recordTransition(ctx context.Context, id types.ID, from, to Status, actorType string, actorID *types.ID) {
	s.metrics.Transition(string(to))
	if s.events == nil {
		return
	}
	err := s.events.AppendEvent(ctx, &Event{
		JourneyID:  id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		logrus.WithField("journey_id", id).WithError(err).Warn("journey event not recorded")
	}
}

func routeInput(children []ChildEntry) []directory.Child {
	out := make([]directory.Child, len(children))
	for i, c := range children {
		out[i] = directory.Child{ID: c.ChildID, ParentID: c.ParentID, SchoolID: c.SchoolID}
	}
	return out
}

func keepPresent(etas map[types.ID]float64, children []ChildEntry) map[types.ID]float64 {
	if etas == nil {
		return nil
	}
	out := make(map[types.ID]float64, len(children))
	for _, c := range children {
		if v, ok := etas[c.ChildID]; ok {
			out[c.ChildID] = v
		}
	}
	return out
}

func parentsOf(children []ChildEntry) []types.ID {
	seen := make(map[types.ID]bool, len(children))
	var out []types.ID
	for _, c := range children {
		if !seen[c.ParentID] {
			seen[c.ParentID] = true
			out = append(out, c.ParentID)
		}
	}
	return out
}

func fenceID(stopIndex int) string {
	return strconv.Itoa(stopIndex)
}

func arrivalNotification(k routing.Kind) notify.Type {
	switch k {
	case routing.KindPickup, routing.KindSchoolPickup:
		return notify.Pickup
	case routing.KindSchoolDropoff:
		return notify.SchoolArrival
	default:
		return notify.HomeArrival
	}
}

func arrivalMessage(t notify.Type) string {
	switch t {
	case notify.Pickup:
		return "Your child has been picked up."
	case notify.SchoolArrival:
		return "Your child has arrived at school."
	default:
		return "Your child has arrived home."
	}
}

func journeyStartedMessage(jt routing.JourneyType) string {
	if jt == routing.Evening {
		return "The driver has started the ride home."
	}
	return "The driver has started the ride to school."
}

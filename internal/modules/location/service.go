// README: Location service: per-driver serialized ingestion, bounded history, geofence checks and live mirrors.
package location

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"schoolrun/internal/apperr"
	"schoolrun/internal/geo"
	"schoolrun/internal/keylock"
	"schoolrun/internal/metrics"
	"schoolrun/internal/types"
)

// SnapshotWriter persists samples for replay. Optional.
type SnapshotWriter interface {
	AppendSnapshot(ctx context.Context, snap Snapshot) error
}

type Options struct {
	HistoryLimit   int
	GeofenceRadius float64
	Broadcaster    Broadcaster
	Snapshots      SnapshotWriter
	Metrics        *metrics.Collector
	Now            func() time.Time
}

type Service struct {
	store   *Store
	locks   *keylock.Locker
	limit   int
	radius  float64
	mirror  Broadcaster
	snaps   SnapshotWriter
	metrics *metrics.Collector
	now     func() time.Time
}

func NewService(store *Store, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.GeofenceRadius <= 0 {
		opts.GeofenceRadius = DefaultGeofenceRadius
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:   store,
		locks:   keylock.New(),
		limit:   opts.HistoryLimit,
		radius:  opts.GeofenceRadius,
		mirror:  opts.Broadcaster,
		snaps:   opts.Snapshots,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Update stores a new sample for the driver. Timestamps are assigned here and are
// strictly increasing per driver, so history order always matches arrival order.
func (s *Service) Update(ctx context.Context, driverID types.ID, p types.Point) (Sample, error) {
	if driverID == "" {
		return Sample{}, apperr.New(apperr.ErrValidation, "driver id is required")
	}
	if !geo.Valid(p) {
		return Sample{}, apperr.New(apperr.ErrValidation, "invalid coordinates %v", p)
	}

	unlock := s.locks.Lock(string(driverID))
	defer unlock()

	prev, err := s.store.Current(ctx, driverID)
	if err != nil {
		s.metrics.LocationStored(err)
		return Sample{}, apperr.Database("location.current", err)
	}
	ts := s.now().UTC().Truncate(time.Microsecond)
	if prev != nil && !ts.After(prev.Timestamp) {
		ts = prev.Timestamp.Add(time.Microsecond)
	}
	sample := Sample{Lat: p.Lat, Lng: p.Lng, Timestamp: ts}

	err = s.store.Save(ctx, driverID, sample, s.limit)
	s.metrics.LocationStored(err)
	if err != nil {
		return Sample{}, apperr.Database("location.save", err)
	}

	s.mirrorSample(ctx, driverID, sample)
	return sample, nil
}

func (s *Service) mirrorSample(ctx context.Context, driverID types.ID, sample Sample) {
	log := logrus.WithField("driver_id", driverID)
	if s.mirror != nil {
		if err := s.mirror.Publish(ctx, driverID, sample); err != nil {
			s.metrics.MirrorFailed("broadcast")
			log.WithError(err).Warn("location broadcast failed")
		}
	}
	if s.snaps != nil {
		snap := Snapshot{DriverID: driverID, Position: sample.Point(), RecordedAt: sample.Timestamp}
		if err := s.snaps.AppendSnapshot(ctx, snap); err != nil {
			s.metrics.MirrorFailed("snapshot")
			log.WithError(err).Warn("location snapshot failed")
		}
	}
}

// Current returns nil when the driver has never reported.
func (s *Service) Current(ctx context.Context, driverID types.ID) (*Sample, error) {
	sample, err := s.store.Current(ctx, driverID)
	if err != nil {
		return nil, apperr.Database("location.current", err)
	}
	return sample, nil
}

func (s *Service) History(ctx context.Context, driverID types.ID, start, end *time.Time) ([]Sample, error) {
	if start != nil && end != nil && end.Before(*start) {
		return nil, apperr.New(apperr.ErrValidation, "end before start")
	}
	samples, err := s.store.History(ctx, driverID, start, end)
	if err != nil {
		return nil, apperr.Database("location.history", err)
	}
	return samples, nil
}

// IsWithinGeofence reports whether p lies within radius meters of center; radius <= 0 uses the default.
func (s *Service) IsWithinGeofence(p, center types.Point, radius float64) bool {
	if radius <= 0 {
		radius = s.radius
	}
	return geo.Distance(p, center) <= radius
}

func (s *Service) RegisterGeofences(ctx context.Context, journeyID types.ID, fences []Geofence) error {
	for i := range fences {
		if fences[i].ID == "" {
			return apperr.New(apperr.ErrValidation, "geofence id is required")
		}
		if !geo.Valid(fences[i].Center) {
			return apperr.New(apperr.ErrValidation, "invalid geofence center for %s", fences[i].ID)
		}
		if fences[i].RadiusMeters <= 0 {
			fences[i].RadiusMeters = s.radius
		}
	}
	return apperr.Database("location.register_geofences", s.store.PutGeofences(ctx, journeyID, fences))
}

// CheckGeofences evaluates every fence still registered for the journey, sorted by fence ID.
func (s *Service) CheckGeofences(ctx context.Context, journeyID types.ID, p types.Point) ([]GeofenceCheck, error) {
	fences, err := s.store.Geofences(ctx, journeyID)
	if err != nil {
		return nil, apperr.Database("location.geofences", err)
	}
	checks := make([]GeofenceCheck, 0, len(fences))
	for _, f := range fences {
		d := geo.Distance(p, f.Center)
		checks = append(checks, GeofenceCheck{ID: f.ID, Inside: d <= f.RadiusMeters, Distance: d})
	}
	return checks, nil
}

// RetireGeofences removes fences whose stops are complete so they are never re-evaluated.
func (s *Service) RetireGeofences(ctx context.Context, journeyID types.ID, ids ...string) error {
	return apperr.Database("location.retire_geofences", s.store.RemoveGeofences(ctx, journeyID, ids...))
}

func (s *Service) ClearGeofences(ctx context.Context, journeyID types.ID) error {
	return apperr.Database("location.clear_geofences", s.store.ClearGeofences(ctx, journeyID))
}

package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"schoolrun/internal/apperr"
	"schoolrun/internal/types"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// frozenClock always returns the same instant.
type frozenClock struct{ at time.Time }

func (c frozenClock) Now() time.Time { return c.at }

type recordingBroadcaster struct {
	mu   sync.Mutex
	seen []Sample
	err  error
}

func (b *recordingBroadcaster) Publish(_ context.Context, _ types.ID, s Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, s)
	return b.err
}

type recordingSnapshots struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recordingSnapshots) AppendSnapshot(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	if opts.Now == nil {
		clock := &stepClock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)}
		opts.Now = clock.Now
	}
	return NewService(NewStore(rdb), opts)
}

func TestUpdate_CurrentAndHistory(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	cur, err := svc.Current(ctx, "d1")
	if err != nil || cur != nil {
		t.Fatalf("expected no current sample, got %v, %v", cur, err)
	}

	p1 := types.Point{Lat: 40.7128, Lng: -74.0060}
	p2 := types.Point{Lat: 40.7130, Lng: -74.0050}
	if _, err := svc.Update(ctx, "d1", p1); err != nil {
		t.Fatalf("update: %v", err)
	}
	s2, err := svc.Update(ctx, "d1", p2)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	cur, err = svc.Current(ctx, "d1")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cur == nil || cur.Point() != p2 || !cur.Timestamp.Equal(s2.Timestamp) {
		t.Fatalf("current = %+v, want %v at %v", cur, p2, s2.Timestamp)
	}

	hist, err := svc.History(ctx, "d1", nil, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].Point() != p1 || hist[1].Point() != p2 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestUpdate_RejectsInvalidPoint(t *testing.T) {
	svc := newTestService(t, Options{})
	tests := []struct {
		name string
		id   types.ID
		p    types.Point
	}{
		{"lat out of range", "d1", types.Point{Lat: 91, Lng: 0}},
		{"lng out of range", "d1", types.Point{Lat: 0, Lng: -181}},
		{"missing driver", "", types.Point{Lat: 1, Lng: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(context.Background(), tt.id, tt.p)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdate_HistoryBoundedFIFO(t *testing.T) {
	const limit = 5
	svc := newTestService(t, Options{HistoryLimit: limit})
	ctx := context.Background()

	for i := 0; i < limit+3; i++ {
		if _, err := svc.Update(ctx, "d1", types.Point{Lat: float64(i) / 100, Lng: 0}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	hist, err := svc.History(ctx, "d1", nil, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != limit {
		t.Fatalf("len(history) = %d, want %d", len(hist), limit)
	}
	// The three oldest samples were dropped.
	for i, s := range hist {
		want := float64(i+3) / 100
		if s.Lat != want {
			t.Errorf("history[%d].Lat = %v, want %v", i, s.Lat, want)
		}
	}
}

func TestUpdate_TimestampsStrictlyIncreaseOnFrozenClock(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	svc := newTestService(t, Options{Now: frozenClock{at: at}.Now})
	ctx := context.Background()

	var last time.Time
	for i := 0; i < 4; i++ {
		s, err := svc.Update(ctx, "d1", types.Point{Lat: 1, Lng: float64(i)})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if i > 0 && !s.Timestamp.After(last) {
			t.Fatalf("timestamp %v not after %v", s.Timestamp, last)
		}
		last = s.Timestamp
	}
	hist, _ := svc.History(ctx, "d1", nil, nil)
	if len(hist) != 4 {
		t.Fatalf("len(history) = %d", len(hist))
	}
	for i := range hist {
		if hist[i].Lng != float64(i) {
			t.Fatalf("history out of order: %+v", hist)
		}
	}
}

func TestHistory_TimeRange(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 5; i++ {
		s, err := svc.Update(ctx, "d1", types.Point{Lat: 1, Lng: float64(i)})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		stamps = append(stamps, s.Timestamp)
	}

	start, end := stamps[1], stamps[3]
	hist, err := svc.History(ctx, "d1", &start, &end)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 || hist[0].Lng != 1 || hist[2].Lng != 3 {
		t.Fatalf("history = %+v", hist)
	}

	hist, _ = svc.History(ctx, "d1", &end, nil)
	if len(hist) != 2 {
		t.Fatalf("open end: len = %d", len(hist))
	}

	if _, err := svc.History(ctx, "d1", &end, &start); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for inverted range, got %v", err)
	}
}

func TestUpdate_DriversAreIndependent(t *testing.T) {
	svc := newTestService(t, Options{HistoryLimit: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for d := 0; d < 4; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			id := types.ID(fmt.Sprintf("d%d", d))
			for i := 0; i < 10; i++ {
				if _, err := svc.Update(ctx, id, types.Point{Lat: float64(d), Lng: float64(i)}); err != nil {
					t.Errorf("update: %v", err)
					return
				}
			}
		}(d)
	}
	wg.Wait()

	for d := 0; d < 4; d++ {
		id := types.ID(fmt.Sprintf("d%d", d))
		hist, err := svc.History(ctx, id, nil, nil)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist) != 10 {
			t.Fatalf("%s: len(history) = %d", id, len(hist))
		}
		for i := range hist {
			if hist[i].Lat != float64(d) || hist[i].Lng != float64(i) {
				t.Fatalf("%s: history[%d] = %+v", id, i, hist[i])
			}
		}
	}
}

func TestUpdate_MirrorsAreBestEffort(t *testing.T) {
	b := &recordingBroadcaster{err: errors.New("rtdb down")}
	snaps := &recordingSnapshots{}
	svc := newTestService(t, Options{Broadcaster: b, Snapshots: snaps})

	if _, err := svc.Update(context.Background(), "d1", types.Point{Lat: 1, Lng: 2}); err != nil {
		t.Fatalf("broadcast failure must not fail the update: %v", err)
	}
	if len(b.seen) != 1 {
		t.Fatalf("broadcasts = %d", len(b.seen))
	}
	if len(snaps.snaps) != 1 || snaps.snaps[0].DriverID != "d1" {
		t.Fatalf("snapshots = %+v", snaps.snaps)
	}
}

func TestIsWithinGeofence(t *testing.T) {
	svc := newTestService(t, Options{})
	center := types.Point{Lat: 40.0, Lng: -74.0}
	// ~55 m north and ~222 m north.
	near := types.Point{Lat: 40.0005, Lng: -74.0}
	far := types.Point{Lat: 40.002, Lng: -74.0}

	tests := []struct {
		name   string
		p      types.Point
		radius float64
		want   bool
	}{
		{"default radius inside", near, 0, true},
		{"negative radius uses default", near, -5, true},
		{"default radius outside", far, 0, false},
		{"explicit radius", far, 250, true},
		{"explicit small radius", near, 20, false},
		{"center", center, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.IsWithinGeofence(tt.p, center, tt.radius); got != tt.want {
				t.Fatalf("IsWithinGeofence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGeofences_RegisterCheckRetireClear(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	j := types.ID("d1_2026-03-02_morning")

	fences := []Geofence{
		{ID: "0", Center: types.Point{Lat: 40.0, Lng: -74.0}},
		{ID: "1", Center: types.Point{Lat: 40.01, Lng: -74.0}, RadiusMeters: 50},
	}
	if err := svc.RegisterGeofences(ctx, j, fences); err != nil {
		t.Fatalf("register: %v", err)
	}

	checks, err := svc.CheckGeofences(ctx, j, types.Point{Lat: 40.0003, Lng: -74.0})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("checks = %+v", checks)
	}
	if checks[0].ID != "0" || !checks[0].Inside {
		t.Errorf("fence 0 should contain the point: %+v", checks[0])
	}
	if checks[1].ID != "1" || checks[1].Inside {
		t.Errorf("fence 1 should not contain the point: %+v", checks[1])
	}

	if err := svc.RetireGeofences(ctx, j, "0"); err != nil {
		t.Fatalf("retire: %v", err)
	}
	checks, _ = svc.CheckGeofences(ctx, j, types.Point{Lat: 40.0003, Lng: -74.0})
	if len(checks) != 1 || checks[0].ID != "1" {
		t.Fatalf("after retire: %+v", checks)
	}

	if err := svc.ClearGeofences(ctx, j); err != nil {
		t.Fatalf("clear: %v", err)
	}
	checks, _ = svc.CheckGeofences(ctx, j, types.Point{Lat: 40.0003, Lng: -74.0})
	if len(checks) != 0 {
		t.Fatalf("after clear: %+v", checks)
	}
}

func TestRegisterGeofences_Validation(t *testing.T) {
	svc := newTestService(t, Options{})
	err := svc.RegisterGeofences(context.Background(), "j", []Geofence{{Center: types.Point{Lat: 1, Lng: 1}}})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

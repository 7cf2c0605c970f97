package routing

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"schoolrun/internal/apperr"
	"schoolrun/internal/geo"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/modules/eta"
	"schoolrun/internal/types"
)

type countingLocator struct {
	*directory.Memory
	mu      sync.Mutex
	parents map[types.ID]int
	schools map[types.ID]int
}

func newCountingLocator(m *directory.Memory) *countingLocator {
	return &countingLocator{Memory: m, parents: map[types.ID]int{}, schools: map[types.ID]int{}}
}

func (c *countingLocator) ParentLocation(ctx context.Context, id types.ID) (types.Point, error) {
	c.mu.Lock()
	c.parents[id]++
	c.mu.Unlock()
	return c.Memory.ParentLocation(ctx, id)
}

func (c *countingLocator) SchoolLocation(ctx context.Context, id types.ID) (types.Point, error) {
	c.mu.Lock()
	c.schools[id]++
	c.mu.Unlock()
	return c.Memory.SchoolLocation(ctx, id)
}

// fixture places everything on the equator, 0.01 degrees (~1112 m) apart.
func fixture() (*directory.Memory, []directory.Child) {
	m := directory.NewMemory()
	m.PutVehicle(directory.Vehicle{DriverID: "d1", StartLocation: types.Point{Lat: 0, Lng: 0}, Capacity: 5})
	m.PutParent(directory.Parent{ID: "p1", Location: types.Point{Lat: 0, Lng: 0.01}})
	m.PutParent(directory.Parent{ID: "p2", Location: types.Point{Lat: 0, Lng: 0.02}})
	m.PutParent(directory.Parent{ID: "p3", Location: types.Point{Lat: 0, Lng: 0.03}})
	m.PutSchool(directory.School{ID: "s1", Location: types.Point{Lat: 0, Lng: 0.04}})
	m.PutSchool(directory.School{ID: "s2", Location: types.Point{Lat: 0, Lng: 0.05}})
	children := []directory.Child{
		{ID: "c1", ParentID: "p1", SchoolID: "s1", DriverID: "d1"},
		{ID: "c2", ParentID: "p2", SchoolID: "s2", DriverID: "d1"},
		{ID: "c3", ParentID: "p3", SchoolID: "s1", DriverID: "d1"},
	}
	for _, c := range children {
		m.PutChild(c)
	}
	return m, children
}

func TestBuild_MorningThreePickupsTwoSchools(t *testing.T) {
	m, children := fixture()
	route, err := NewBuilder(m, 4).Build(context.Background(), "d1", children, Morning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Visit{
		Pickup{ChildID: "c1"},
		Pickup{ChildID: "c2"},
		Pickup{ChildID: "c3"},
		SchoolDropoff{SchoolID: "s1", ChildIDs: []types.ID{"c1", "c3"}},
		SchoolDropoff{SchoolID: "s2", ChildIDs: []types.ID{"c2"}},
	}
	if len(route.Stops) != len(want) {
		t.Fatalf("got %d stops, want %d", len(route.Stops), len(want))
	}
	for i, s := range route.Stops {
		if !reflect.DeepEqual(s.Visit, want[i]) {
			t.Errorf("stop %d = %#v, want %#v", i, s.Visit, want[i])
		}
		if s.EstimatedDistance < 1100 || s.EstimatedDistance > 1125 {
			t.Errorf("stop %d distance = %f", i, s.EstimatedDistance)
		}
	}
	if route.StartLocation != (types.Point{}) {
		t.Errorf("start = %v", route.StartLocation)
	}
	if d := route.TotalDistance(); d < 5*1100 || d > 5*1125 {
		t.Errorf("total distance = %f", d)
	}
}

func TestBuild_Evening(t *testing.T) {
	m, children := fixture()
	route, err := NewBuilder(m, 0).Build(context.Background(), "d1", children, Evening)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var kinds = map[Kind]int{}
	for _, s := range route.Stops {
		kinds[s.Visit.Kind()]++
	}
	if kinds[KindSchoolPickup] != 2 || kinds[KindDropoff] != 3 || len(route.Stops) != 5 {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestBuild_NearestNeighborInvariant(t *testing.T) {
	m := directory.NewMemory()
	m.PutVehicle(directory.Vehicle{DriverID: "d1", StartLocation: types.Point{Lat: 40.70, Lng: -74.00}, Capacity: 10})
	homes := []types.Point{
		{Lat: 40.73, Lng: -73.99}, {Lat: 40.71, Lng: -74.02}, {Lat: 40.69, Lng: -73.97},
		{Lat: 40.75, Lng: -74.01}, {Lat: 40.72, Lng: -73.95},
	}
	var children []directory.Child
	for i, h := range homes {
		pid := types.ID("p" + string(rune('a'+i)))
		m.PutParent(directory.Parent{ID: pid, Location: h})
		children = append(children, directory.Child{ID: types.ID("c" + string(rune('a'+i))), ParentID: pid, SchoolID: "s1"})
	}
	m.PutSchool(directory.School{ID: "s1", Location: types.Point{Lat: 40.76, Lng: -73.98}})

	route, err := NewBuilder(m, 2).Build(context.Background(), "d1", children, Morning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current := route.StartLocation
	for i, s := range route.Stops {
		if d := geo.Distance(current, s.Location); d != s.EstimatedDistance {
			t.Fatalf("stop %d: estimatedDistance %f != %f", i, s.EstimatedDistance, d)
		}
		for _, later := range route.Stops[i+1:] {
			if geo.Distance(current, later.Location) < s.EstimatedDistance {
				t.Fatalf("stop %d is not the nearest remaining stop", i)
			}
		}
		current = s.Location
	}
}

func TestBuild_Deterministic(t *testing.T) {
	m, children := fixture()
	b := NewBuilder(m, 3)
	first, err := b.Build(context.Background(), "d1", children, Morning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := b.Build(context.Background(), "d1", children, Morning)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestNearestNeighbor_TieGoesToFirstOccurrence(t *testing.T) {
	start := types.Point{}
	east := Stop{Visit: Pickup{ChildID: "east"}, Location: types.Point{Lat: 0, Lng: 0.01}}
	west := Stop{Visit: Pickup{ChildID: "west"}, Location: types.Point{Lat: 0, Lng: -0.01}}

	got := NearestNeighbor(start, []Stop{west, east})
	if got[0].Visit.(Pickup).ChildID != "west" {
		t.Fatalf("first = %v, want west", got[0].Visit)
	}
	got = NearestNeighbor(start, []Stop{east, west})
	if got[0].Visit.(Pickup).ChildID != "east" {
		t.Fatalf("first = %v, want east", got[0].Visit)
	}
}

func TestBuild_ResolvesEachLocationOnce(t *testing.T) {
	m, _ := fixture()
	children := []directory.Child{
		{ID: "c1", ParentID: "p1", SchoolID: "s1"},
		{ID: "c1b", ParentID: "p1", SchoolID: "s1"},
		{ID: "c2", ParentID: "p2", SchoolID: "s1"},
	}
	loc := newCountingLocator(m)
	route, err := NewBuilder(loc, 4).Build(context.Background(), "d1", children, Morning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.parents["p1"] != 1 || loc.parents["p2"] != 1 || loc.schools["s1"] != 1 {
		t.Fatalf("lookups parents=%v schools=%v", loc.parents, loc.schools)
	}
	// Siblings share a home but keep separate pickup stops.
	if len(route.Stops) != 4 {
		t.Fatalf("stops = %d", len(route.Stops))
	}
}

func TestBuild_Errors(t *testing.T) {
	m, children := fixture()
	b := NewBuilder(m, 2)
	ctx := context.Background()

	if _, err := b.Build(ctx, "d1", children, "noon"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad type: %v", err)
	}
	if _, err := b.Build(ctx, "ghost", children, Morning); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing vehicle: %v", err)
	}
	orphan := []directory.Child{{ID: "cx", ParentID: "px", SchoolID: "s1"}}
	if _, err := b.Build(ctx, "d1", orphan, Morning); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing parent: %v", err)
	}
	noSchool := []directory.Child{{ID: "cx", ParentID: "p1"}}
	if _, err := b.Build(ctx, "d1", noSchool, Morning); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing school: %v", err)
	}

	empty, err := b.Build(ctx, "d1", nil, Morning)
	if err != nil || len(empty.Stops) != 0 {
		t.Errorf("empty route = %+v, %v", empty, err)
	}
}

type fixedLegs struct {
	seconds int
	err     error
}

func (f fixedLegs) GetETA(context.Context, types.Point, types.Point) (eta.Estimate, error) {
	if f.err != nil {
		return eta.Estimate{}, f.err
	}
	return eta.Estimate{DurationSeconds: f.seconds}, nil
}

func TestArrivals_CumulativeToHomeStops(t *testing.T) {
	m, children := fixture()
	route, err := NewBuilder(m, 2).Build(context.Background(), "d1", children, Morning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Arrivals(context.Background(), fixedLegs{seconds: 300}, route)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[types.ID]float64{"c1": 5, "c2": 10, "c3": 15}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("arrivals = %v, want %v", got, want)
	}

	evening, _ := NewBuilder(m, 2).Build(context.Background(), "d1", children, Evening)
	got, err = Arrivals(context.Background(), fixedLegs{seconds: 60}, evening)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Stop order is purely nearest-neighbor, so the nearest homes come first here.
	want = map[types.ID]float64{"c1": 1, "c2": 2, "c3": 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("evening arrivals = %v, want %v", got, want)
	}
}

func TestArrivals_PropagatesUnavailable(t *testing.T) {
	m, children := fixture()
	route, _ := NewBuilder(m, 2).Build(context.Background(), "d1", children, Morning)
	_, err := Arrivals(context.Background(), fixedLegs{err: apperr.ErrETAUnavailable}, route)
	if !errors.Is(err, apperr.ErrETAUnavailable) {
		t.Fatalf("expected eta unavailable, got %v", err)
	}
}

func TestStop_JSONKeepsVisit(t *testing.T) {
	in := Stop{
		Visit:             SchoolDropoff{SchoolID: "s1", ChildIDs: []types.ID{"c1", "c3"}},
		Location:          types.Point{Lat: 1, Lng: 2},
		EstimatedDistance: 42,
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Stop
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip: %#v != %#v", out, in)
	}

	if _, err := (StopDoc{Kind: "teleport"}).Stop(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

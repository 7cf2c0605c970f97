// README: Route builder: resolves stop locations once per call, then orders stops nearest-neighbor from the vehicle start.
package routing

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"schoolrun/internal/apperr"
	"schoolrun/internal/geo"
	"schoolrun/internal/modules/directory"
	"schoolrun/internal/types"
)

const defaultConcurrency = 8

// Locator is the subset of the directory the builder reads.
type Locator interface {
	Vehicle(ctx context.Context, driverID types.ID) (*directory.Vehicle, error)
	ParentLocation(ctx context.Context, parentID types.ID) (types.Point, error)
	SchoolLocation(ctx context.Context, schoolID types.ID) (types.Point, error)
}

type Builder struct {
	loc         Locator
	concurrency int
}

// NewBuilder bounds location lookups to concurrency in-flight calls; <= 0 uses 8.
func NewBuilder(loc Locator, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Builder{loc: loc, concurrency: concurrency}
}

// Build returns the ordered route for the given children. Children order is the
// input order used for tie-breaking; schools keep their first-occurrence order.
func (b *Builder) Build(ctx context.Context, driverID types.ID, children []directory.Child, jt JourneyType) (*Route, error) {
	if !jt.Valid() {
		return nil, apperr.New(apperr.ErrValidation, "unknown journey type %q", jt)
	}
	vehicle, err := b.loc.Vehicle(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !geo.Valid(vehicle.StartLocation) {
		return nil, apperr.New(apperr.ErrValidation, "invalid start location for vehicle of %s", driverID)
	}

	parents, schools, err := b.resolve(ctx, children)
	if err != nil {
		return nil, err
	}

	var schoolOrder []types.ID
	bySchool := make(map[types.ID][]types.ID)
	for _, c := range children {
		if _, ok := bySchool[c.SchoolID]; !ok {
			schoolOrder = append(schoolOrder, c.SchoolID)
		}
		bySchool[c.SchoolID] = append(bySchool[c.SchoolID], c.ID)
	}

	stops := make([]Stop, 0, len(children)+len(schoolOrder))
	homeStops := func(visit func(types.ID) Visit) {
		for _, c := range children {
			stops = append(stops, Stop{Visit: visit(c.ID), Location: parents[c.ParentID]})
		}
	}
	schoolStops := func(visit func(types.ID, []types.ID) Visit) {
		for _, id := range schoolOrder {
			stops = append(stops, Stop{Visit: visit(id, bySchool[id]), Location: schools[id]})
		}
	}
	switch jt {
	case Morning:
		homeStops(func(id types.ID) Visit { return Pickup{ChildID: id} })
		schoolStops(func(id types.ID, kids []types.ID) Visit { return SchoolDropoff{SchoolID: id, ChildIDs: kids} })
	case Evening:
		schoolStops(func(id types.ID, kids []types.ID) Visit { return SchoolPickup{SchoolID: id, ChildIDs: kids} })
		homeStops(func(id types.ID) Visit { return Dropoff{ChildID: id} })
	}

	return &Route{
		DriverID:      driverID,
		Type:          jt,
		StartLocation: vehicle.StartLocation,
		Stops:         NearestNeighbor(vehicle.StartLocation, stops),
	}, nil
}

// resolve looks up each distinct parent and school exactly once, concurrently.
func (b *Builder) resolve(ctx context.Context, children []directory.Child) (map[types.ID]types.Point, map[types.ID]types.Point, error) {
	parents := make(map[types.ID]types.Point)
	schools := make(map[types.ID]types.Point)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	lookup := func(id types.ID, seen map[types.ID]bool, dst map[types.ID]types.Point, fetch func(context.Context, types.ID) (types.Point, error), what string) {
		if seen[id] {
			return
		}
		seen[id] = true
		g.Go(func() error {
			p, err := fetch(gctx, id)
			if err != nil {
				return err
			}
			if !geo.Valid(p) {
				return apperr.New(apperr.ErrValidation, "invalid %s location for %s", what, id)
			}
			mu.Lock()
			dst[id] = p
			mu.Unlock()
			return nil
		})
	}

	for _, c := range children {
		if c.ParentID == "" || c.SchoolID == "" {
			return nil, nil, apperr.New(apperr.ErrValidation, "child %s is missing a parent or school", c.ID)
		}
	}
	seenParents := make(map[types.ID]bool)
	seenSchools := make(map[types.ID]bool)
	for _, c := range children {
		lookup(c.ParentID, seenParents, parents, b.loc.ParentLocation, "home")
		lookup(c.SchoolID, seenSchools, schools, b.loc.SchoolLocation, "school")
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return parents, schools, nil
}

// NearestNeighbor orders stops greedily from start. On equal distances the stop
// that appears first in the input wins. The input slice is not modified.
func NearestNeighbor(start types.Point, stops []Stop) []Stop {
	remaining := make([]Stop, len(stops))
	copy(remaining, stops)
	ordered := make([]Stop, 0, len(stops))

	current := start
	for len(remaining) > 0 {
		best := 0
		bestDist := geo.Distance(current, remaining[0].Location)
		for i := 1; i < len(remaining); i++ {
			if d := geo.Distance(current, remaining[i].Location); d < bestDist {
				best, bestDist = i, d
			}
		}
		next := remaining[best]
		next.EstimatedDistance = bestDist
		ordered = append(ordered, next)
		current = next.Location
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return ordered
}

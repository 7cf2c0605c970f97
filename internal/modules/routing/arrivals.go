package routing

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"schoolrun/internal/modules/eta"
	"schoolrun/internal/types"
)

// ETASource is satisfied by *eta.Cache.
type ETASource interface {
	GetETA(ctx context.Context, origin, destination types.Point) (eta.Estimate, error)
}

// Arrivals returns, for every child with a home stop on the route, the minutes
// from the route start until that stop is reached. Legs are fetched concurrently
// and summed in route order. Any failed leg fails the whole computation.
func Arrivals(ctx context.Context, src ETASource, r *Route) (map[types.ID]float64, error) {
	legs := make([]eta.Estimate, len(r.Stops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)
	for i := range r.Stops {
		from := r.StartLocation
		if i > 0 {
			from = r.Stops[i-1].Location
		}
		to := r.Stops[i].Location
		g.Go(func() error {
			est, err := src.GetETA(gctx, from, to)
			if err != nil {
				return err
			}
			legs[i] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[types.ID]float64)
	var elapsed float64
	for i, s := range r.Stops {
		elapsed += legs[i].Minutes()
		for _, id := range s.Visit.Children() {
			if s.HomeOf(id) {
				out[id] = round1(elapsed)
			}
		}
	}
	return out, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

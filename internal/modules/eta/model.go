// README: ETA value types and the provider contract for external distance/duration services.
package eta

import (
	"context"
	"math"
	"time"

	"schoolrun/internal/geo"
	"schoolrun/internal/types"
)

// Estimate is a travel distance and duration between two points.
type Estimate struct {
	DistanceMeters  int
	DurationSeconds int
}

func (e Estimate) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}

func (e Estimate) Minutes() float64 {
	return float64(e.DurationSeconds) / 60.0
}

// Provider computes an Estimate with a network call. It may fail or time out.
type Provider interface {
	Compute(ctx context.Context, origin, destination types.Point) (Estimate, error)
}

// HaversineProvider estimates travel at a constant speed along the great circle.
// It backs the cache when no routing service is configured.
type HaversineProvider struct {
	SpeedMps float64
}

func (h HaversineProvider) Compute(ctx context.Context, origin, destination types.Point) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}
	speed := h.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h city speed
	}
	d := geo.Distance(origin, destination)
	return Estimate{
		DistanceMeters:  int(math.Round(d)),
		DurationSeconds: int(math.Round(d / speed)),
	}, nil
}

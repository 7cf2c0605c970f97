package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"schoolrun/internal/modules/eta"
	"schoolrun/internal/types"
)

// RouteService computes driving estimates with the Google Maps Distance Matrix API.
// It satisfies eta.Provider.
type RouteService struct {
	client   *maps.Client
	language string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, language: "en"}, nil
}

// Compute returns the driving distance and duration from origin to destination.
// Durations prefer the traffic-aware value when the API returns one.
func (s *RouteService) Compute(ctx context.Context, origin, destination types.Point) (eta.Estimate, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:       []string{origin.String()},
		Destinations:  []string{destination.String()},
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
		Language:      s.language,
	}

	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return eta.Estimate{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return eta.Estimate{}, fmt.Errorf("no route found")
	}

	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return eta.Estimate{}, fmt.Errorf("no route found: %s", el.Status)
	}

	duration := el.Duration
	if el.DurationInTraffic > 0 {
		duration = el.DurationInTraffic
	}
	return eta.Estimate{
		DistanceMeters:  el.Distance.Meters,
		DurationSeconds: int(duration.Seconds()),
	}, nil
}

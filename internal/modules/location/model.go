// README: Location samples, geofences and persisted snapshots.
package location

import (
	"time"

	"schoolrun/internal/types"
)

// DefaultHistoryLimit bounds the per-driver history window.
const DefaultHistoryLimit = 100

// DefaultGeofenceRadius is used whenever a caller passes a radius <= 0.
const DefaultGeofenceRadius = 100.0

type Sample struct {
	Lat       float64   `json:"latitude"`
	Lng       float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

func (s Sample) Point() types.Point {
	return types.Point{Lat: s.Lat, Lng: s.Lng}
}

// Geofence is a circle around a stop. ID is chosen by the caller and is unique within a journey.
type Geofence struct {
	ID           string      `json:"id"`
	Center       types.Point `json:"center"`
	RadiusMeters float64     `json:"radiusMeters"`
}

type GeofenceCheck struct {
	ID       string
	Inside   bool
	Distance float64
}

// Snapshot is a location sample appended to the Postgres replay log.
type Snapshot struct {
	ID         int64
	DriverID   types.ID
	Position   types.Point
	RecordedAt time.Time
}

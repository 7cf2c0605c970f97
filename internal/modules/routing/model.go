// README: Route model. A stop carries exactly one of four visit kinds.
package routing

import (
	"encoding/json"
	"fmt"
	"time"

	"schoolrun/internal/types"
)

type JourneyType string

const (
	Morning JourneyType = "morning"
	Evening JourneyType = "evening"
)

func (t JourneyType) Valid() bool {
	return t == Morning || t == Evening
}

type Kind string

const (
	KindPickup        Kind = "pickup"
	KindDropoff       Kind = "dropoff"
	KindSchoolPickup  Kind = "school_pickup"
	KindSchoolDropoff Kind = "school_dropoff"
)

// Visit is what happens at a stop.
type Visit interface {
	Kind() Kind
	// Children lists every child whose status changes when the stop completes.
	Children() []types.ID
	visit()
}

type Pickup struct{ ChildID types.ID }

type Dropoff struct{ ChildID types.ID }

type SchoolPickup struct {
	SchoolID types.ID
	ChildIDs []types.ID
}

type SchoolDropoff struct {
	SchoolID types.ID
	ChildIDs []types.ID
}

func (Pickup) Kind() Kind        { return KindPickup }
func (Dropoff) Kind() Kind       { return KindDropoff }
func (SchoolPickup) Kind() Kind  { return KindSchoolPickup }
func (SchoolDropoff) Kind() Kind { return KindSchoolDropoff }

func (v Pickup) Children() []types.ID        { return []types.ID{v.ChildID} }
func (v Dropoff) Children() []types.ID       { return []types.ID{v.ChildID} }
func (v SchoolPickup) Children() []types.ID  { return v.ChildIDs }
func (v SchoolDropoff) Children() []types.ID { return v.ChildIDs }

func (Pickup) visit()        {}
func (Dropoff) visit()       {}
func (SchoolPickup) visit()  {}
func (SchoolDropoff) visit() {}

type Stop struct {
	Visit             Visit
	Location          types.Point
	EstimatedDistance float64
	Completed         bool
	CompletedAt       *time.Time
}

// HomeOf reports whether this stop is the child's home stop (pickup or dropoff).
func (s Stop) HomeOf(childID types.ID) bool {
	switch v := s.Visit.(type) {
	case Pickup:
		return v.ChildID == childID
	case Dropoff:
		return v.ChildID == childID
	}
	return false
}

type Route struct {
	DriverID      types.ID    `json:"driverId"`
	Type          JourneyType `json:"journeyType"`
	StartLocation types.Point `json:"startLocation"`
	Stops         []Stop      `json:"stops"`
}

// TotalDistance sums the estimated leg distances in meters.
func (r *Route) TotalDistance() float64 {
	var total float64
	for _, s := range r.Stops {
		total += s.EstimatedDistance
	}
	return total
}

// StopDoc is the flat stored form of a Stop.
type StopDoc struct {
	Kind              Kind        `firestore:"kind" json:"kind"`
	ChildID           types.ID    `firestore:"childId,omitempty" json:"childId,omitempty"`
	SchoolID          types.ID    `firestore:"schoolId,omitempty" json:"schoolId,omitempty"`
	ChildIDs          []types.ID  `firestore:"childIds,omitempty" json:"childIds,omitempty"`
	Location          types.Point `firestore:"location" json:"location"`
	EstimatedDistance float64     `firestore:"estimatedDistance" json:"estimatedDistance"`
	Completed         bool        `firestore:"completed" json:"completed"`
	CompletedAt       *time.Time  `firestore:"completedAt" json:"completedAt,omitempty"`
}

func (s Stop) Doc() StopDoc {
	d := StopDoc{
		Location:          s.Location,
		EstimatedDistance: s.EstimatedDistance,
		Completed:         s.Completed,
		CompletedAt:       s.CompletedAt,
	}
	switch v := s.Visit.(type) {
	case Pickup:
		d.Kind, d.ChildID = KindPickup, v.ChildID
	case Dropoff:
		d.Kind, d.ChildID = KindDropoff, v.ChildID
	case SchoolPickup:
		d.Kind, d.SchoolID, d.ChildIDs = KindSchoolPickup, v.SchoolID, v.ChildIDs
	case SchoolDropoff:
		d.Kind, d.SchoolID, d.ChildIDs = KindSchoolDropoff, v.SchoolID, v.ChildIDs
	}
	return d
}

func (d StopDoc) Stop() (Stop, error) {
	s := Stop{
		Location:          d.Location,
		EstimatedDistance: d.EstimatedDistance,
		Completed:         d.Completed,
		CompletedAt:       d.CompletedAt,
	}
	switch d.Kind {
	case KindPickup:
		s.Visit = Pickup{ChildID: d.ChildID}
	case KindDropoff:
		s.Visit = Dropoff{ChildID: d.ChildID}
	case KindSchoolPickup:
		s.Visit = SchoolPickup{SchoolID: d.SchoolID, ChildIDs: d.ChildIDs}
	case KindSchoolDropoff:
		s.Visit = SchoolDropoff{SchoolID: d.SchoolID, ChildIDs: d.ChildIDs}
	default:
		return Stop{}, fmt.Errorf("unknown stop kind %q", d.Kind)
	}
	return s, nil
}

func (s Stop) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Doc())
}

func (s *Stop) UnmarshalJSON(b []byte) error {
	var d StopDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	stop, err := d.Stop()
	if err != nil {
		return err
	}
	*s = stop
	return nil
}

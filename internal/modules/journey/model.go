// README: Journey aggregate, status definitions and transition events.
package journey

import (
	"fmt"
	"time"

	"schoolrun/internal/modules/routing"
	"schoolrun/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

type ChildStatus string

const (
	ChildPending    ChildStatus = "pending"
	ChildPickedUp   ChildStatus = "picked_up"
	ChildDroppedOff ChildStatus = "dropped_off"
)

func (s ChildStatus) Valid() bool {
	switch s {
	case ChildPending, ChildPickedUp, ChildDroppedOff:
		return true
	}
	return false
}

type ChildEntry struct {
	ChildID         types.ID     `json:"childId"`
	ParentID        types.ID     `json:"parentId"`
	SchoolID        types.ID     `json:"schoolId"`
	Status          ChildStatus  `json:"status"`
	StatusUpdatedAt *time.Time   `json:"statusUpdatedAt,omitempty"`
	Location        *types.Point `json:"location,omitempty"`
}

type Journey struct {
	ID            types.ID            `json:"id"`
	DriverID      types.ID            `json:"driverId"`
	Type          routing.JourneyType `json:"journeyType"`
	Date          types.Date          `json:"date"`
	Status        Status              `json:"status"`
	Version       int                 `json:"version"`
	StartLocation types.Point         `json:"startLocation"`
	Stops         []routing.Stop      `json:"stops"`
	Children      []ChildEntry        `json:"children"`
	// BaselineETAs holds minutes from route start to each child's home stop.
	BaselineETAs          map[types.ID]float64 `json:"baselineEtas,omitempty"`
	StartTime             *time.Time           `json:"startTime,omitempty"`
	EndTime               *time.Time           `json:"endTime,omitempty"`
	ActualDurationMinutes *float64             `json:"actualDurationMinutes,omitempty"`
	CreatedAt             time.Time            `json:"createdAt"`
	UpdatedAt             time.Time            `json:"updatedAt"`
}

// JourneyID is deterministic so that one driver cannot hold two journeys of the same type on a date.
func JourneyID(driverID types.ID, date types.Date, jt routing.JourneyType) types.ID {
	return types.ID(fmt.Sprintf("%s_%s_%s", driverID, date, jt))
}

func (j *Journey) ChildIDs() []types.ID {
	ids := make([]types.ID, len(j.Children))
	for i, c := range j.Children {
		ids[i] = c.ChildID
	}
	return ids
}

// child returns the index of the child's entry, or -1.
func (j *Journey) child(id types.ID) int {
	for i, c := range j.Children {
		if c.ChildID == id {
			return i
		}
	}
	return -1
}

func (j *Journey) clone() *Journey {
	cp := *j
	cp.Stops = append([]routing.Stop(nil), j.Stops...)
	cp.Children = append([]ChildEntry(nil), j.Children...)
	if j.BaselineETAs != nil {
		cp.BaselineETAs = make(map[types.ID]float64, len(j.BaselineETAs))
		for k, v := range j.BaselineETAs {
			cp.BaselineETAs[k] = v
		}
	}
	return &cp
}

type Event struct {
	ID         int64
	JourneyID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the journey state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusScheduled:  {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// arrivalStatus is the child status a completed stop implies.
func arrivalStatus(k routing.Kind) ChildStatus {
	switch k {
	case routing.KindPickup, routing.KindSchoolPickup:
		return ChildPickedUp
	default:
		return ChildDroppedOff
	}
}

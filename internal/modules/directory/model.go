// README: Read-side entities shared by routing, journeys, absences and enrollment.
package directory

import "schoolrun/internal/types"

const (
	childrenCollection = "children"
	parentsCollection  = "parents"
	schoolsCollection  = "schools"
	vehiclesCollection = "vehicles"
	usersCollection    = "users"
)

// Child is enrolled with a driver when DriverID is non-empty. Home is the parent's location.
type Child struct {
	ID       types.ID `firestore:"-" json:"id"`
	Name     string   `firestore:"name" json:"name"`
	ParentID types.ID `firestore:"parentId" json:"parentId"`
	SchoolID types.ID `firestore:"schoolId" json:"schoolId"`
	DriverID types.ID `firestore:"driverId" json:"driverId,omitempty"`
}

func (c Child) Enrolled() bool { return c.DriverID != "" }

type Parent struct {
	ID       types.ID    `firestore:"-" json:"id"`
	Name     string      `firestore:"name" json:"name"`
	Location types.Point `firestore:"location" json:"location"`
}

type School struct {
	ID       types.ID    `firestore:"-" json:"id"`
	Name     string      `firestore:"name" json:"name"`
	Location types.Point `firestore:"location" json:"location"`
}

// Vehicle documents are keyed by the owning driver's id.
type Vehicle struct {
	DriverID      types.ID    `firestore:"-" json:"driverId"`
	StartLocation types.Point `firestore:"startLocation" json:"startLocation"`
	Capacity      int         `firestore:"capacity" json:"capacity"`
}

type user struct {
	DeviceToken string `firestore:"deviceToken"`
}

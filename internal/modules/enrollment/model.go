// README: Enrollment requests from parents to drivers.
package enrollment

import (
	"time"

	"schoolrun/internal/types"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

type Request struct {
	ID         types.ID   `json:"id"`
	ChildID    types.ID   `json:"childId"`
	DriverID   types.ID   `json:"driverId"`
	ParentID   types.ID   `json:"parentId"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

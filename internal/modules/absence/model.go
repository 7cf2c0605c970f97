// README: Absence records, one per child and date.
package absence

import (
	"fmt"
	"time"

	"schoolrun/internal/types"
)

type Absence struct {
	ChildID   types.ID   `json:"childId"`
	Date      types.Date `json:"date"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// DocID enforces at most one absence per child and date.
func DocID(childID types.ID, date types.Date) string {
	return fmt.Sprintf("%s_%s", childID, date)
}

// Notice is an early_arrival notification that was handed to the dispatcher.
type Notice struct {
	ParentID     types.ID `json:"parentId"`
	ChildID      types.ID `json:"childId"`
	JourneyID    types.ID `json:"journeyId"`
	DeltaMinutes float64  `json:"deltaMinutes"`
}

// Summary describes what an absence change did to the day's journeys.
type Summary struct {
	Absence          Absence    `json:"absence"`
	AffectedJourneys []types.ID `json:"affectedJourneys"`
	Notifications    []Notice   `json:"notifications"`
	// ETAUnavailable lists journeys rerouted without an ETA comparison.
	ETAUnavailable []types.ID `json:"etaUnavailable,omitempty"`
}

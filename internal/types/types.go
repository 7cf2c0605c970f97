// README: Common value objects shared across modules (ids, coordinates, calendar dates).
package types

import (
	"fmt"
	"time"
)

type ID string

// Point is a WGS84 coordinate. Field names follow the mobile apps' location payloads.
type Point struct {
	Lat float64 `json:"latitude" firestore:"latitude"`
	Lng float64 `json:"longitude" firestore:"longitude"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// DateLayout is the calendar-day format used for journey and absence dates.
const DateLayout = "2006-01-02"

// Date is a single calendar day, always stored as YYYY-MM-DD.
type Date string

// ParseDate validates v and returns it as a Date.
func ParseDate(v string) (Date, error) {
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", v, err)
	}
	return Date(t.Format(DateLayout)), nil
}

func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

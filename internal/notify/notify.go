// README: Notification types and the fire-and-forget notifier used by the journey core.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"schoolrun/internal/metrics"
	"schoolrun/internal/types"
)

type Type string

const (
	JourneyStarted     Type = "journey_started"
	Pickup             Type = "pickup"
	SchoolArrival      Type = "school_arrival"
	HomeArrival        Type = "home_arrival"
	EarlyArrival       Type = "early_arrival"
	EnrollmentAccepted Type = "enrollment_accepted"
	EnrollmentRejected Type = "enrollment_rejected"
)

type Notification struct {
	UserID    types.ID          `firestore:"userId" json:"userId"`
	Type      Type              `firestore:"type" json:"type"`
	Message   string            `firestore:"message" json:"message"`
	Data      map[string]string `firestore:"data" json:"data,omitempty"`
	CreatedAt time.Time         `firestore:"createdAt" json:"createdAt"`
	Read      bool              `firestore:"read" json:"read"`
}

// Dispatcher delivers a single notification.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier never fails its caller: dispatch errors are logged and counted.
type Notifier struct {
	d       Dispatcher
	metrics *metrics.Collector
	now     func() time.Time
}

func NewNotifier(d Dispatcher, m *metrics.Collector) *Notifier {
	return &Notifier{d: d, metrics: m, now: time.Now}
}

// Notify reports whether the dispatcher accepted the notification.
func (n *Notifier) Notify(ctx context.Context, msg Notification) bool {
	if n == nil || n.d == nil {
		return false
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = n.now().UTC()
	}
	err := n.d.Send(ctx, msg)
	n.metrics.Notification(string(msg.Type), err)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": msg.UserID,
			"type":    msg.Type,
		}).WithError(err).Warn("notification dispatch failed")
		return false
	}
	return true
}

package notify

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"schoolrun/internal/types"
)

const notificationsCollection = "notifications"

// TokenSource resolves the FCM device token of a user; "" means no device.
type TokenSource interface {
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

// FCMDispatcher records each notification in Firestore and pushes it through FCM
// when the user has a registered device.
type FCMDispatcher struct {
	fs     *firestore.Client
	msg    *messaging.Client
	tokens TokenSource
}

func NewFCMDispatcher(fs *firestore.Client, msg *messaging.Client, tokens TokenSource) *FCMDispatcher {
	return &FCMDispatcher{fs: fs, msg: msg, tokens: tokens}
}

func (d *FCMDispatcher) Send(ctx context.Context, n Notification) error {
	if _, _, err := d.fs.Collection(notificationsCollection).Add(ctx, n); err != nil {
		return fmt.Errorf("recording notification: %w", err)
	}

	token, err := d.tokens.DeviceToken(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("resolving device token for %s: %w", string(n.UserID), err)
	}
	if token == "" {
		return nil
	}

	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	data["type"] = string(n.Type)

	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title(n.Type),
			Body:  n.Message,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := d.msg.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to user %s: %w", string(n.UserID), err)
	}
	logrus.WithFields(logrus.Fields{"user_id": n.UserID, "type": n.Type, "message_id": messageID}).Debug("fcm sent")
	return nil
}

func title(t Type) string {
	switch t {
	case JourneyStarted:
		return "Journey started"
	case Pickup:
		return "Picked up"
	case SchoolArrival:
		return "Arrived at school"
	case HomeArrival:
		return "Arrived home"
	case EarlyArrival:
		return "Earlier arrival"
	case EnrollmentAccepted:
		return "Enrollment accepted"
	case EnrollmentRejected:
		return "Enrollment declined"
	default:
		return "SchoolRun"
	}
}

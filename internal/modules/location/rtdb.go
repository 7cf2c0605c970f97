package location

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/db"

	"schoolrun/internal/types"
)

// Broadcaster mirrors live samples to the channel parent apps listen on.
type Broadcaster interface {
	Publish(ctx context.Context, driverID types.ID, sample Sample) error
}

// rtdbDriverEntry mirrors a single driver entry stored in Firebase RTDB
// under the /driver_locations node.
type rtdbDriverEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

// RTDBBroadcaster writes the latest sample to /driver_locations/{driverId}.
// Parent apps subscribe to that path directly.
type RTDBBroadcaster struct {
	client *db.Client
	root   string
}

func NewRTDBBroadcaster(client *db.Client) *RTDBBroadcaster {
	return &RTDBBroadcaster{client: client, root: "driver_locations"}
}

func (b *RTDBBroadcaster) Publish(ctx context.Context, driverID types.ID, sample Sample) error {
	ref := b.client.NewRef(b.root).Child(string(driverID))
	entry := rtdbDriverEntry{
		Lat:       sample.Lat,
		Lng:       sample.Lng,
		Timestamp: sample.Timestamp.UnixMilli(),
	}
	if err := ref.Set(ctx, entry); err != nil {
		return fmt.Errorf("writing rtdb location for %s: %w", string(driverID), err)
	}
	return nil
}

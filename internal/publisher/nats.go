// README: NATS broadcaster for live driver positions; satisfies location.Broadcaster.
package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"schoolrun/internal/modules/location"
	"schoolrun/internal/types"
)

const subjectPrefix = "schoolrun.location"

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("schoolrun-api"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logrus.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logrus.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logrus.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

type PositionMessage struct {
	DriverID  string    `json:"driverId"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
}

func (p *NATSPublisher) Publish(_ context.Context, driverID types.ID, s location.Sample) error {
	b, err := json.Marshal(PositionMessage{
		DriverID:  string(driverID),
		Timestamp: s.Timestamp,
		Lat:       s.Lat,
		Lng:       s.Lng,
	})
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(driverID), b)
}

// Subject is the per-driver subject parent apps subscribe to.
func Subject(driverID types.ID) string {
	return subjectPrefix + "." + subjectToken(string(driverID))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

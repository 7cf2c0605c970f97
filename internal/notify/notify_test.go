package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"schoolrun/internal/metrics"
)

func TestNotifier_RecordsAndCounts(t *testing.T) {
	rec := &Recorder{}
	m := metrics.NewCollector()
	n := NewNotifier(rec, m)

	if ok := n.Notify(context.Background(), Notification{UserID: "p1", Type: Pickup, Message: "picked up"}); !ok {
		t.Fatal("expected delivery")
	}
	sent := rec.For("p1", Pickup)
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", rec.Sent())
	}
	if sent[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}
	if got := testutil.ToFloat64(m.NotificationsSent.WithLabelValues("pickup")); got != 1 {
		t.Errorf("sent counter = %v", got)
	}
}

func TestNotifier_SwallowsDispatchErrors(t *testing.T) {
	rec := &Recorder{Err: errors.New("fcm unavailable")}
	m := metrics.NewCollector()
	n := NewNotifier(rec, m)

	if ok := n.Notify(context.Background(), Notification{UserID: "p1", Type: EarlyArrival}); ok {
		t.Fatal("expected failed delivery to be reported")
	}
	if got := testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("early_arrival")); got != 1 {
		t.Errorf("failed counter = %v", got)
	}
}

func TestNotifier_NilIsNoop(t *testing.T) {
	var n *Notifier
	if n.Notify(context.Background(), Notification{UserID: "p1"}) {
		t.Fatal("nil notifier should not deliver")
	}
}

func TestRecorder_ForFilters(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	_ = rec.Send(ctx, Notification{UserID: "p1", Type: Pickup})
	_ = rec.Send(ctx, Notification{UserID: "p1", Type: HomeArrival})
	_ = rec.Send(ctx, Notification{UserID: "p2", Type: Pickup})

	if got := len(rec.For("p1", "")); got != 2 {
		t.Errorf("For(p1) = %d", got)
	}
	if got := len(rec.For("p1", HomeArrival)); got != 1 {
		t.Errorf("For(p1, home_arrival) = %d", got)
	}
	rec.Reset()
	if len(rec.Sent()) != 0 {
		t.Error("Reset should clear")
	}
}

package journey

import (
	"reflect"
	"testing"
	"time"

	"schoolrun/internal/modules/routing"
	"schoolrun/internal/types"
)

func TestDocConversionKeepsStopsAndChildren(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 15, 0, 0, time.UTC)
	loc := types.Point{Lat: 1, Lng: 2}
	j := &Journey{
		ID:       "d1_2026-03-02_morning",
		DriverID: "d1",
		Type:     routing.Morning,
		Date:     "2026-03-02",
		Status:   StatusInProgress,
		Version:  4,
		Stops: []routing.Stop{
			{Visit: routing.Pickup{ChildID: "c1"}, Location: loc, EstimatedDistance: 10, Completed: true, CompletedAt: &at},
			{Visit: routing.SchoolDropoff{SchoolID: "s1", ChildIDs: []types.ID{"c1"}}, Location: loc},
		},
		Children:     []ChildEntry{{ChildID: "c1", ParentID: "p1", SchoolID: "s1", Status: ChildPickedUp, StatusUpdatedAt: &at, Location: &loc}},
		BaselineETAs: map[types.ID]float64{"c1": 4.5},
		StartTime:    &at,
		CreatedAt:    at,
		UpdatedAt:    at,
	}

	doc := toDoc(j)
	if !reflect.DeepEqual(doc.ChildIDs, []string{"c1"}) {
		t.Fatalf("childIds = %v", doc.ChildIDs)
	}
	back, err := fromDoc(string(j.ID), doc)
	if err != nil {
		t.Fatalf("fromDoc: %v", err)
	}
	if !reflect.DeepEqual(j, back) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", back, j)
	}
}

func TestFromDoc_RejectsUnknownStopKind(t *testing.T) {
	doc := journeyDoc{Stops: []routing.StopDoc{{Kind: "detour"}}}
	if _, err := fromDoc("j1", doc); err == nil {
		t.Fatal("expected error")
	}
}

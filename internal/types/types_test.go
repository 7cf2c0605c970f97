package types

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-10-19")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != "2026-10-19" {
		t.Fatalf("got %q", d)
	}
	for _, bad := range []string{"", "2026-13-01", "19/10/2026", "2026-10-19T00:00:00Z"} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q) expected error", bad)
		}
	}
}

func TestDateOf(t *testing.T) {
	ts := time.Date(2026, 2, 3, 23, 59, 0, 0, time.UTC)
	if got := DateOf(ts); got != "2026-02-03" {
		t.Fatalf("DateOf = %q", got)
	}
}

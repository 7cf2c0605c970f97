package publisher

import (
	"testing"

	"schoolrun/internal/types"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		in   types.ID
		want string
	}{
		{"driver-1", "schoolrun.location.driver-1"},
		{"a.b", "schoolrun.location.a_b"},
		{"x>y*z", "schoolrun.location.x_y_z"},
		{"  ", "schoolrun.location._"},
	}
	for _, tt := range tests {
		if got := Subject(tt.in); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

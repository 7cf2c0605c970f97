package notify

import (
	"context"
	"sync"

	"schoolrun/internal/types"
)

// Recorder is an in-memory Dispatcher for tests and dry runs.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	// Err, when set, is returned from every Send after recording.
	Err error
}

func (r *Recorder) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.Err
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// For returns the notifications addressed to userID, optionally filtered by type.
func (r *Recorder) For(userID types.ID, t Type) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.UserID == userID && (t == "" || n.Type == t) {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

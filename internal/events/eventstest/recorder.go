// Package eventstest collects events published on a queue for assertions.
package eventstest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"outline-manager/internal/events"
)

type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

// NewRecorder subscribes to every event on q until the test ends.
func NewRecorder(t testing.TB, q *events.Queue) *Recorder {
	r := &Recorder{}
	t.Cleanup(q.SubscribeAll(func(e events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	}))
	return r
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Types() []events.Type {
	evs := r.Events()
	out := make([]events.Type, len(evs))
	for i, e := range evs {
		out[i] = e.Type()
	}
	return out
}

// WaitFor blocks until at least n events have arrived.
func (r *Recorder) WaitFor(t testing.TB, n int) []events.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.Events()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d events", n)
	return r.Events()
}

// Settle waits briefly and returns whatever arrived, for asserting that
// nothing more was published.
func (r *Recorder) Settle() []events.Event {
	time.Sleep(50 * time.Millisecond)
	return r.Events()
}

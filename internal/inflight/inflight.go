// Package inflight tracks which message ids a single connection currently
// holds without having acknowledged or failed. Grounded on the teacher's
// Channel.inFlightMessages map and its push/pop/get accessor methods
// (nsqd/channel.go), stripped of the deferred-timeout worker: spec.md §4.6
// requeues on disconnect, not on a per-message timeout, so there is no
// pqueue here, only the guarded id set.
package inflight

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrAlreadyInFlight mirrors the teacher's E_ID_ALREADY_IN_FLIGHT: a
	// connection tried to track an id it is already holding.
	ErrAlreadyInFlight = errors.New("inflight: id already in flight")
	// ErrNotInFlight mirrors the teacher's E_ID_NOT_IN_FLIGHT: an
	// acknowledge or fail referenced an id this connection is not holding.
	ErrNotInFlight = errors.New("inflight: id not in flight")
)

// Tracker is the set of message ids one connection has popped but not yet
// acknowledged or failed. One Tracker exists per connection; the broker
// keeps the full message.Message keyed by id separately (spec.md §4.6), so
// a Tracker only ever needs to remember the ids themselves.
type Tracker struct {
	mu  sync.Mutex
	ids map[uuid.UUID]struct{}
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{ids: make(map[uuid.UUID]struct{})}
}

// Track records id as in flight on this connection.
func (t *Tracker) Track(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; ok {
		return ErrAlreadyInFlight
	}
	t.ids[id] = struct{}{}
	return nil
}

// Untrack removes id, used by both Acknowledge (success) and Fail
// (requeue) since either releases this connection's hold on the id.
func (t *Tracker) Untrack(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; !ok {
		return ErrNotInFlight
	}
	delete(t.ids, id)
	return nil
}

// Has reports whether id is currently tracked.
func (t *Tracker) Has(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// Ids returns a snapshot of every id currently in flight, used to requeue
// everything a connection was holding when it disconnects.
func (t *Tracker) Ids() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uuid.UUID, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	return out
}

// Len reports how many ids are currently in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

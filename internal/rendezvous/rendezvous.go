// Package rendezvous implements the zero-capacity hand-off between an
// enqueue that has a message ready right now and a consumer blocked in
// pop. It exists to avoid the classic wake-up race: an enqueuer never
// has to check "is anyone waiting?" and then push — Offer either hands
// the message directly to a parked Wait, or fails immediately, in which
// case falling back to the priority FIFO is always safe.
package rendezvous

import (
	"context"
	"time"

	"github.com/zlepper/brqueue/internal/message"
)

// Rendezvous is a single unbuffered channel modeling the hand-off slot.
// Grounded on the teacher's clientMessageChan: an unbuffered channel
// used purely to pass a ready message to whichever goroutine is
// currently receiving.
type Rendezvous struct {
	slot chan message.Message
}

// New returns a Rendezvous with no pending offer.
func New() *Rendezvous {
	return &Rendezvous{slot: make(chan message.Message)}
}

// Offer attempts to hand msg directly to a parked Wait. Returns true if a
// waiter accepted it, false if nobody was waiting (the caller must then
// fall back to pushing into the priority FIFO).
func (r *Rendezvous) Offer(msg message.Message) bool {
	select {
	case r.slot <- msg:
		return true
	default:
		return false
	}
}

// Wait blocks until a message is offered, timeout elapses, or ctx is
// cancelled (connection drop). Returns false on timeout or cancellation.
func (r *Rendezvous) Wait(ctx context.Context, timeout time.Duration) (message.Message, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-r.slot:
		return msg, true
	case <-timer.C:
		return message.Message{}, false
	case <-ctx.Done():
		return message.Message{}, false
	}
}

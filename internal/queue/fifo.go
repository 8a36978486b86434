// Package queue implements the in-memory priority FIFOs: a single
// capability-filtered FIFO per priority class, and a pair tying High and
// Low together with high-drains-first semantics.
package queue

import (
	"container/list"
	"sync"

	"github.com/zlepper/brqueue/internal/message"
	"github.com/zlepper/brqueue/internal/tagset"
)

// FIFO is a single-priority in-memory queue with capability-filtered pop.
//
// TryPop scans from the head for the first message whose required tags
// are a subset of the offered capabilities. Messages it scans past are
// left in place, in their original relative order, so two
// messages deliverable to the same consumer are always delivered in
// enqueue order — including across an intervening message a given
// consumer can't handle. This is the stricter ordering guarantee spec.md
// licenses as an alternative to a channel-drain implementation; it is
// grounded on the original source's VecDeque-based pop, which already
// makes this choice.
type FIFO struct {
	mu    sync.Mutex
	items *list.List
}

// NewFIFO returns an empty FIFO.
func NewFIFO() *FIFO {
	return &FIFO{items: list.New()}
}

// Push appends a message to the tail. Never blocks beyond the time to
// acquire the internal lock.
func (f *FIFO) Push(msg message.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items.PushBack(msg)
}

// TryPop returns the first message deliverable to capabilities, removing
// it from the FIFO. Skipped messages are not moved and keep their
// original relative order.
func (f *FIFO) TryPop(capabilities tagset.Set) (message.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for e := f.items.Front(); e != nil; e = e.Next() {
		msg := e.Value.(message.Message)
		if msg.CanBeHandledBy(capabilities) {
			f.items.Remove(e)
			return msg, true
		}
	}
	return message.Message{}, false
}

// Len returns the current number of queued messages.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

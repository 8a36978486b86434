package queue

import (
	"github.com/zlepper/brqueue/internal/message"
	"github.com/zlepper/brqueue/internal/tagset"
)

// Pair holds the High and Low priority FIFOs. Pop always drains High
// before Low; there is no starvation guarantee for Low when High is
// continuously non-empty, by design (spec.md §4.2).
type Pair struct {
	High *FIFO
	Low  *FIFO
}

// NewPair returns an empty Pair.
func NewPair() *Pair {
	return &Pair{High: NewFIFO(), Low: NewFIFO()}
}

// Push dispatches msg to the FIFO matching its priority.
func (p *Pair) Push(msg message.Message) {
	p.fifoFor(msg.Priority).Push(msg)
}

// Pop returns the first High message deliverable to capabilities, else
// the first deliverable Low message, else false.
func (p *Pair) Pop(capabilities tagset.Set) (message.Message, bool) {
	if msg, ok := p.High.TryPop(capabilities); ok {
		return msg, true
	}
	return p.Low.TryPop(capabilities)
}

func (p *Pair) fifoFor(priority message.Priority) *FIFO {
	if priority == message.PriorityHigh {
		return p.High
	}
	return p.Low
}

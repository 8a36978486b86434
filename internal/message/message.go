// Package message defines the unit of queued work and its priority class.
//
// A Message is created once, at enqueue, and is never mutated afterwards:
// its Id and Required tag set are fixed for the lifetime of the message
// (spec data-model invariant). Two messages never share an Id.
package message

import (
	"github.com/google/uuid"

	"github.com/zlepper/brqueue/internal/tagset"
)

// Priority is the delivery class of a Message. High always drains before
// Low at a single pop attempt; there is no starvation guarantee for Low.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// String implements fmt.Stringer for log output.
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// Message is the opaque unit of queued work.
type Message struct {
	Id       uuid.UUID
	Payload  []byte
	Required tagset.Set
	Priority Priority
}

// New builds a Message with a fresh version-4 id.
func New(payload []byte, required tagset.Set, priority Priority) Message {
	return Message{
		Id:       uuid.New(),
		Payload:  payload,
		Required: required,
		Priority: priority,
	}
}

// CanBeHandledBy reports whether a consumer advertising capabilities can
// accept this message, i.e. whether Required is a subset of capabilities.
func (m Message) CanBeHandledBy(capabilities tagset.Set) bool {
	return m.Required.IsSubsetOf(capabilities)
}

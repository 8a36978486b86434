// Package wire implements the length-prefixed framed request/response
// protocol of spec.md §6: the five logical operations (authenticate,
// enqueue, pop, acknowledge, and fail-implicit-via-disconnect) over a
// length-prefixed TCP stream. Grounded on original_source/src/client.rs
// for the framing (4-byte little-endian length prefix via byteorder's
// LittleEndian, here encoding/binary) and per-request-type dispatch loop,
// with the original's protobuf payload codec swapped for msgpack to match
// the durable log's serialization choice (no protoc toolchain available
// to regenerate .pb.go — see DESIGN.md).
package wire

import "github.com/zlepper/brqueue/internal/message"

// Priority mirrors message.Priority's two-value wire enum, spec.md §6.
type Priority = message.Priority

// Request is the tagged-union envelope for one client request. Exactly
// one of the operation-specific fields is set, selected by Op.
type Request struct {
	RefId int64  `msgpack:"ref_id"`
	Op    string `msgpack:"op"`

	Authenticate *AuthenticateRequest `msgpack:"authenticate,omitempty"`
	Enqueue      *EnqueueRequest      `msgpack:"enqueue,omitempty"`
	Pop          *PopRequest          `msgpack:"pop,omitempty"`
	Acknowledge  *AcknowledgeRequest  `msgpack:"acknowledge,omitempty"`
}

// Operation names, used both as Request.Op and internally for dispatch.
const (
	OpAuthenticate = "authenticate"
	OpEnqueue      = "enqueue"
	OpPop          = "pop"
	OpAcknowledge  = "acknowledge"
)

// AuthenticateRequest carries the credentials that must be the first
// frame on every connection (spec.md §6).
type AuthenticateRequest struct {
	Username string `msgpack:"username"`
	Password string `msgpack:"password"`
}

// EnqueueRequest carries a new message's payload, priority, and required
// capability set.
type EnqueueRequest struct {
	Message              []byte   `msgpack:"message"`
	Priority             Priority `msgpack:"priority"`
	RequiredCapabilities []string `msgpack:"required_capabilities"`
}

// PopRequest carries the popping consumer's advertised capabilities and
// whether it is willing to block.
type PopRequest struct {
	AvailableCapabilities []string `msgpack:"available_capabilities"`
	WaitForMessage        bool     `msgpack:"wait_for_message"`
}

// AcknowledgeRequest carries the id of a message to mark complete.
type AcknowledgeRequest struct {
	Id string `msgpack:"id"`
}

// Response is the tagged-union envelope for one reply. RefId echoes the
// request it answers. Error is set (and every operation-specific field
// omitted) when the operation failed.
type Response struct {
	RefId int64  `msgpack:"ref_id"`
	Error string `msgpack:"error,omitempty"`

	Enqueue     *EnqueueResponse     `msgpack:"enqueue,omitempty"`
	Pop         *PopResponse         `msgpack:"pop,omitempty"`
	Acknowledge *AcknowledgeResponse `msgpack:"acknowledge,omitempty"`
}

// EnqueueResponse carries the assigned message id.
type EnqueueResponse struct {
	Id string `msgpack:"id"`
}

// PopResponse carries whether a message was available and, if so, its id
// and payload.
type PopResponse struct {
	HadResult bool     `msgpack:"had_result"`
	Id        string   `msgpack:"id,omitempty"`
	Message   []byte   `msgpack:"message,omitempty"`
	Priority  Priority `msgpack:"priority,omitempty"`
}

// AcknowledgeResponse is empty, per spec.md §6.
type AcknowledgeResponse struct{}

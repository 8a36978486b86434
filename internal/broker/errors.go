package broker

import "github.com/pkg/errors"

// Error taxonomy per spec.md §7. The broker never returns a bare error:
// every failure path is classified into one of these sentinels so a front
// end can decide whether to reply-and-continue, close the connection, or
// abort the process.
var (
	// ErrStorage is any disk I/O or serialization failure. Surfaced on
	// the operation that caused it; does not tear down the broker.
	ErrStorage = errors.New("broker: storage error")
	// ErrQueueCorrupted means an in-memory channel died. Unrecoverable.
	// The original's channel-based relaxed FIFO variant could hit this;
	// the deque-based internal/queue this repo uses (spec.md §9's
	// stricter alternative) has no channel to die, so this sentinel is
	// carried for taxonomy completeness but never currently raised.
	ErrQueueCorrupted = errors.New("broker: queue corrupted")
	// ErrMutexCorrupted means a lock holder panicked mid-critical-section.
	// Fatal for the broker. Go's sync.Mutex, unlike Rust's std::sync::Mutex,
	// does not poison on a panicking holder, so this sentinel has no
	// current raise site either; it stays part of the taxonomy in case a
	// future lock-protected invariant needs to report it explicitly.
	ErrMutexCorrupted = errors.New("broker: mutex corrupted")
	// ErrGarbageCollectionFailed is raised by Compact. The broker remains
	// usable but a retry is required.
	ErrGarbageCollectionFailed = errors.New("broker: garbage collection failed")
	// ErrInvalidRequest is a malformed request, unknown id, or
	// unparseable UUID. Surfaced to the client; the connection stays open.
	ErrInvalidRequest = errors.New("broker: invalid request")
	// ErrAuthFailed means credentials were invalid. The connection is
	// closed after the response.
	ErrAuthFailed = errors.New("broker: authentication failed")
)

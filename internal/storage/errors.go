package storage

import "github.com/pkg/errors"

// ErrCorrupted means a lock guarding file state was found already broken
// (a prior holder panicked mid-critical-section). Per spec.md §7 this
// maps to MutexCorrupted: fatal for the broker, not locally recoverable.
// Go's sync.Mutex does not poison on a panicking holder the way Rust's
// std::sync::Mutex does, so this package has no current raise site for
// it; it is kept so a future recover()-based guard has a sentinel to
// report.
var ErrCorrupted = errors.New("storage: file reference lock corrupted")

// ErrGarbageCollectionFailed is returned by Compact when a compaction run
// could not complete. The log remains usable for Append/Complete/Load; a
// retry of Compact is safe.
var ErrGarbageCollectionFailed = errors.New("storage: garbage collection failed")

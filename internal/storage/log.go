// Package storage implements the durable log: per-priority append-only
// enqueue files plus a completion log, with online compaction. Grounded
// on original_source/src/internal_queue_file_manager.rs for the file
// layout and locking shape, and on spec.md §4.3/§6/§9 for the exact
// operations, durability policy, and compaction algorithm.
package storage

import (
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zlepper/brqueue/internal/message"
)

// Config configures a Log.
type Config struct {
	// Prefix is the filesystem path prefix under which the three log
	// files (and their compaction transients) live.
	Prefix string
	// RequireFlush, when true, fsyncs the relevant priority file on
	// every Append before returning (at-least-once under SIGKILL).
	// When false, Append leaves the record in the file's buffered writer,
	// which reaches disk when the buffer fills or on Flush/Close;
	// Complete always fsyncs regardless.
	RequireFlush bool
	Log          *logrus.Entry
}

// Log is the durable per-priority append log plus completion log.
type Log struct {
	prefix       string
	requireFlush bool
	log          *logrus.Entry

	// mu is the file-references reader/writer lock (spec.md §4.3/§5):
	// Append/Complete hold it for reading for the whole of their write to
	// the current fileSet; Compact holds it for writing only during its
	// brief swing-writer steps.
	mu   sync.RWMutex
	refs *fileSet

	// gcLock serializes compaction runs so two never overlap.
	gcLock sync.Mutex
}

// Open creates (if needed) the parent directory and the three log files
// under cfg.Prefix, ready for Append/Complete. It does not load existing
// content; call Load for that.
func Open(cfg Config) (*Log, error) {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	dir := parentDir(cfg.Prefix)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "storage: failed to create storage directory %s", dir)
		}
	}

	l := &Log{
		prefix:       cfg.Prefix,
		requireFlush: cfg.RequireFlush,
		log:          cfg.Log.WithField("component", "storage"),
	}

	refs, err := openFileSet(l.highPath(), l.lowPath(), l.completedPath())
	if err != nil {
		return nil, err
	}
	l.refs = refs

	return l, nil
}

func parentDir(prefix string) string {
	i := lastSlash(prefix)
	if i < 0 {
		return ""
	}
	return prefix[:i]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// currentRefs returns the installed fileSet under the reader side of the
// file-references lock.
func (l *Log) currentRefs() *fileSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refs
}

func (l *Log) fileFor(refs *fileSet, priority message.Priority) *appendFile {
	if priority == message.PriorityHigh {
		return refs.high
	}
	return refs.low
}

// Append serializes msg and writes it to the file matching its priority.
// Thread-safe: concurrent Append calls never interleave record bytes
// (each appendFile serializes writers on its own mutex).
func (l *Log) Append(msg message.Message) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	af := l.fileFor(l.refs, msg.Priority)
	return af.write(l.requireFlush, func(enc *msgpack.Encoder) error {
		return writeMessageRecord(enc, msg)
	})
}

// Complete appends id to the completion log. Always flushes: once a
// client observes an acknowledge succeed, a restart will not redeliver
// that message.
func (l *Log) Complete(id uuid.UUID) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refs.completed.write(true, func(enc *msgpack.Encoder) error {
		return writeIdRecord(enc, id)
	})
}

// Flush forces buffered writes on all three files.
func (l *Log) Flush() error {
	refs := l.currentRefs()
	for _, af := range []*appendFile{refs.high, refs.low, refs.completed} {
		if err := af.flush(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes all three files.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs.close()
}

// Loaded is the result of Load: the live (uncompleted) messages of each
// priority, in file/enqueue order.
type Loaded struct {
	High []message.Message
	Low  []message.Message
}

// Load reads both priority files end-to-end and the completed file into
// a set of ids, returning the priority lists filtered by id not in the
// completed set. Per spec.md §4.3, this over-approximates what was live
// at the last successful operation (at-least-once): it may include
// messages whose completion had not yet been flushed.
func (l *Log) Load() (Loaded, error) {
	high, err := readMessagesFile(l.highPath())
	if err != nil {
		return Loaded{}, err
	}
	low, err := readMessagesFile(l.lowPath())
	if err != nil {
		return Loaded{}, err
	}
	completed, err := readIdsFile(l.completedPath())
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{
		High: filterCompleted(high, completed),
		Low:  filterCompleted(low, completed),
	}, nil
}

func filterCompleted(msgs []message.Message, completed map[uuid.UUID]struct{}) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, done := completed[m.Id]; !done {
			out = append(out, m)
		}
	}
	return out
}

func readMessagesFile(path string) ([]message.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "storage: failed to open %s for read", path)
	}
	defer f.Close()
	return readMessageRecords(f)
}

func readIdsFile(path string) (map[uuid.UUID]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[uuid.UUID]struct{}{}, nil
		}
		return nil, errors.Wrapf(err, "storage: failed to open %s for read", path)
	}
	defer f.Close()
	return readIdRecords(f)
}

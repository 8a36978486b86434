package storage

import (
	"bufio"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// appendFile is a single append-only file: a mutex-guarded buffered
// writer plus the msgpack encoder bound to it. Grounded on the original
// source's FileReferences entries (each an Arc<Mutex<BufWriter<File>>>)
// and on the teacher's per-structure sync.Mutex fields guarding shared
// state (e.g. Channel.inFlightMutex).
type appendFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
	enc  *msgpack.Encoder
}

func openAppendFile(path string) (*appendFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: failed to open %s for append", path)
	}
	w := bufio.NewWriter(f)
	return &appendFile{
		path: path,
		f:    f,
		w:    w,
		enc:  msgpack.NewEncoder(w),
	}, nil
}

// write appends one record by calling fn with the file's encoder, then,
// if requireFlush, flushes the buffered writer and fsyncs the file.
func (af *appendFile) write(requireFlush bool, fn func(*msgpack.Encoder) error) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if err := fn(af.enc); err != nil {
		return errors.Wrap(err, "storage: failed to write record")
	}

	if requireFlush {
		return af.flushLocked()
	}
	return nil
}

// flush forces buffered writes (and an fsync) regardless of policy. Used
// by the explicit Flush operation.
func (af *appendFile) flush() error {
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.flushLocked()
}

func (af *appendFile) flushLocked() error {
	if err := af.w.Flush(); err != nil {
		return errors.Wrapf(err, "storage: failed to flush %s", af.path)
	}
	if err := af.f.Sync(); err != nil {
		return errors.Wrapf(err, "storage: failed to fsync %s", af.path)
	}
	return nil
}

func (af *appendFile) close() error {
	af.mu.Lock()
	defer af.mu.Unlock()
	if err := af.w.Flush(); err != nil {
		_ = af.f.Close()
		return errors.Wrapf(err, "storage: failed to flush %s before close", af.path)
	}
	return af.f.Close()
}

// fileSet is the "file references" cell: the three currently-installed
// append targets. Swapped wholesale under Log.mu during compaction's
// swing-writer steps.
type fileSet struct {
	high      *appendFile
	low       *appendFile
	completed *appendFile
}

func openFileSet(highPath, lowPath, completedPath string) (*fileSet, error) {
	high, err := openAppendFile(highPath)
	if err != nil {
		return nil, err
	}
	low, err := openAppendFile(lowPath)
	if err != nil {
		_ = high.close()
		return nil, err
	}
	completed, err := openAppendFile(completedPath)
	if err != nil {
		_ = high.close()
		_ = low.close()
		return nil, err
	}
	return &fileSet{high: high, low: low, completed: completed}, nil
}

func (fs *fileSet) close() error {
	var firstErr error
	for _, af := range []*appendFile{fs.high, fs.low, fs.completed} {
		if err := af.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

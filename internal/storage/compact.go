package storage

import (
	"bufio"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Compact rewrites the priority files to exclude ids present in the
// completion log, per spec.md §4.3's eight-step algorithm:
//
//  1. acquire gcLock so two compactions never overlap;
//  2. swing writers onto a side fileSet under the file-references write
//     lock, so in-flight Append/Complete calls land in the side files
//     while compaction reads the primaries;
//  3. rename HIGH/LOW to .bak, read COMPLETED into a set;
//  4. stream each .bak into a fresh HIGH/LOW, dropping completed ids;
//  5. delete the .bak files and the original COMPLETED;
//  6. swing back onto fresh primary appenders;
//  7. drain the side files into the new primaries;
//  8. delete the side files.
//
// Step 7 resolves the open question in spec.md §9 about a concurrent
// appender racing the side-file drain: Append and Complete hold the
// file-references read lock for the whole of their write, so the
// swing-back in step 6 waits for any call still writing to a side file.
// Once it returns no further writes land in the side files, and each is
// renamed to its .drain name before it is streamed and removed.
func (l *Log) Compact() error {
	l.gcLock.Lock()
	defer l.gcLock.Unlock()

	if err := l.compact(); err != nil {
		l.log.WithError(err).Error("compaction failed")
		// Any error from compact() is, by construction, the
		// GarbageCollectionFailed category of spec.md §7: the log
		// remains usable and a retried Compact is safe.
		return errors.Wrap(ErrGarbageCollectionFailed, err.Error())
	}
	return nil
}

func (l *Log) compact() error {
	// Step 2: swing writers onto the side file set.
	sideRefs, _, err := l.swingWriters(l.gcHighPath(), l.gcLowPath(), l.gcCompletedPath())
	if err != nil {
		return err
	}

	// Step 3: rename originals to .bak, read the completed set.
	highBak := l.highPath() + bakSuffix
	lowBak := l.lowPath() + bakSuffix

	if err := os.Rename(l.highPath(), highBak); err != nil {
		return errors.Wrap(err, "storage: failed to rename high priority file for compaction")
	}
	if err := os.Rename(l.lowPath(), lowBak); err != nil {
		return errors.Wrap(err, "storage: failed to rename low priority file for compaction")
	}

	completed, err := readIdsFile(l.completedPath())
	if err != nil {
		return err
	}

	// Step 4: stream each .bak, filtering completed ids, into fresh
	// primary files.
	if err := rewriteFiltered(highBak, l.highPath(), completed); err != nil {
		return err
	}
	if err := rewriteFiltered(lowBak, l.lowPath(), completed); err != nil {
		return err
	}

	// Step 5: delete the .bak files and the original completed file —
	// every id it recorded is now either absent from the rewritten
	// primaries (no longer needed) or was never present in them to
	// begin with.
	if err := os.Remove(highBak); err != nil {
		return errors.Wrap(err, "storage: failed to remove high priority backup")
	}
	if err := os.Remove(lowBak); err != nil {
		return errors.Wrap(err, "storage: failed to remove low priority backup")
	}
	if err := os.Remove(l.completedPath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "storage: failed to remove original completed file")
	}

	// Step 6: swing back onto fresh primary appenders (appending after
	// the rewritten content from step 4).
	newRefs, _, err := l.swingWriters(l.highPath(), l.lowPath(), l.completedPath())
	if err != nil {
		return err
	}

	// Step 7: drain the side files into the new primaries.
	if err := l.drainSide(sideRefs.high, l.gcHighPath(), newRefs.high); err != nil {
		return err
	}
	if err := l.drainSide(sideRefs.low, l.gcLowPath(), newRefs.low); err != nil {
		return err
	}
	if err := l.drainSideCompleted(sideRefs.completed, l.gcCompletedPath(), newRefs.completed); err != nil {
		return err
	}

	return nil
}

// swingWriters installs a fresh fileSet at the given paths under the
// file-references write lock and returns both the newly installed set
// and the previously installed one (already closed).
func (l *Log) swingWriters(highPath, lowPath, completedPath string) (newRefs, oldRefs *fileSet, err error) {
	newRefs, err = openFileSet(highPath, lowPath, completedPath)
	if err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	oldRefs = l.refs
	l.refs = newRefs
	l.mu.Unlock()

	if oldRefs != nil {
		if cerr := oldRefs.close(); cerr != nil {
			l.log.WithError(cerr).Warn("failed to close previous log files during compaction swing")
		}
	}

	return newRefs, oldRefs, nil
}

// rewriteFiltered streams srcPath's records into a fresh file at
// dstPath, dropping any message whose id is in completed.
func rewriteFiltered(srcPath, dstPath string, completed map[uuid.UUID]struct{}) error {
	msgs, err := readMessagesFile(srcPath)
	if err != nil {
		return err
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "storage: failed to create %s during compaction", dstPath)
	}
	defer dst.Close()

	w := bufio.NewWriter(dst)
	enc := msgpack.NewEncoder(w)
	for _, msg := range msgs {
		if _, done := completed[msg.Id]; done {
			continue
		}
		if err := writeMessageRecord(enc, msg); err != nil {
			return errors.Wrapf(err, "storage: failed to rewrite record into %s", dstPath)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "storage: failed to flush %s during compaction", dstPath)
	}
	return dst.Sync()
}

// drainSide streams side's message records into dst, then removes the
// (by-then-closed and renamed) side file. The swing-back has already
// closed side and waited out every Append still writing to it, so the
// flush and close here find nothing left to do.
func (l *Log) drainSide(side *appendFile, sidePath string, dst *appendFile) error {
	side.mu.Lock()
	if err := side.w.Flush(); err != nil {
		side.mu.Unlock()
		return errors.Wrapf(err, "storage: failed to flush side file %s", sidePath)
	}
	if err := side.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		side.mu.Unlock()
		return errors.Wrapf(err, "storage: failed to close side file %s", sidePath)
	}
	side.mu.Unlock()

	drainPath := sidePath + drainSuffix
	if err := os.Rename(sidePath, drainPath); err != nil {
		return errors.Wrapf(err, "storage: failed to rename side file %s for draining", sidePath)
	}

	msgs, err := readMessagesFile(drainPath)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if err := dst.write(true, func(enc *msgpack.Encoder) error {
			return writeMessageRecord(enc, msg)
		}); err != nil {
			return errors.Wrap(err, "storage: failed to drain side file into new primary")
		}
	}

	return os.Remove(drainPath)
}

// drainSideCompleted is drainSide's analogue for the completed-id side
// file.
func (l *Log) drainSideCompleted(side *appendFile, sidePath string, dst *appendFile) error {
	side.mu.Lock()
	if err := side.w.Flush(); err != nil {
		side.mu.Unlock()
		return errors.Wrapf(err, "storage: failed to flush side file %s", sidePath)
	}
	if err := side.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		side.mu.Unlock()
		return errors.Wrapf(err, "storage: failed to close side file %s", sidePath)
	}
	side.mu.Unlock()

	drainPath := sidePath + drainSuffix
	if err := os.Rename(sidePath, drainPath); err != nil {
		return errors.Wrapf(err, "storage: failed to rename side file %s for draining", sidePath)
	}

	ids, err := readIdsFile(drainPath)
	if err != nil {
		return err
	}

	for id := range ids {
		if err := dst.write(true, func(enc *msgpack.Encoder) error {
			return writeIdRecord(enc, id)
		}); err != nil {
			return errors.Wrap(err, "storage: failed to drain side completed file into new primary")
		}
	}

	return os.Remove(drainPath)
}

package storage

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlepper/brqueue/internal/message"
	"github.com/zlepper/brqueue/internal/tagset"
)

func openTestLog(t *testing.T, requireFlush bool) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	prefix := filepath.Join(dir, "tasks")
	l, err := Open(Config{Prefix: prefix, RequireFlush: requireFlush})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, prefix
}

func mustMessage(priority message.Priority, tags ...string) message.Message {
	return message.New([]byte("payload"), tagset.New(tags...), priority)
}

func TestAppendThenLoadRoundTrips(t *testing.T) {
	l, _ := openTestLog(t, true)

	high := mustMessage(message.PriorityHigh, "gpu")
	low := mustMessage(message.PriorityLow)

	require.NoError(t, l.Append(high))
	require.NoError(t, l.Append(low))

	loaded, err := l.Load()
	require.NoError(t, err)
	require.Len(t, loaded.High, 1)
	require.Len(t, loaded.Low, 1)
	assert.Equal(t, high.Id, loaded.High[0].Id)
	assert.Equal(t, low.Id, loaded.Low[0].Id)
}

func TestCompleteRemovesMessageFromLoad(t *testing.T) {
	l, _ := openTestLog(t, true)

	msg := mustMessage(message.PriorityHigh)
	require.NoError(t, l.Append(msg))
	require.NoError(t, l.Complete(msg.Id))

	loaded, err := l.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.High)
	assert.Empty(t, loaded.Low)
}

// TestCompactPreservesLiveMessagesAcrossRestart mirrors spec.md §8
// scenario 6: enqueue three High messages, acknowledge the first, run
// compaction, shut down and reopen the log — Load must yield the other two
// in their original order, no Low messages, and an empty completion log.
func TestCompactPreservesLiveMessagesAcrossRestart(t *testing.T) {
	l, prefix := openTestLog(t, true)

	i1 := mustMessage(message.PriorityHigh)
	i2 := mustMessage(message.PriorityHigh)
	i3 := mustMessage(message.PriorityHigh)

	require.NoError(t, l.Append(i1))
	require.NoError(t, l.Append(i2))
	require.NoError(t, l.Append(i3))
	require.NoError(t, l.Complete(i1.Id))

	require.NoError(t, l.Compact())
	require.NoError(t, l.Close())

	reopened, err := Open(Config{Prefix: prefix, RequireFlush: true})
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load()
	require.NoError(t, err)
	require.Empty(t, loaded.Low)
	require.Len(t, loaded.High, 2)
	assert.Equal(t, i2.Id, loaded.High[0].Id)
	assert.Equal(t, i3.Id, loaded.High[1].Id)

	completed, err := readIdsFile(reopened.completedPath())
	require.NoError(t, err)
	assert.Empty(t, completed)
}

// TestCompactWithConcurrentAppendsRetainsFreshMessages mirrors spec.md §8
// scenario 7: compaction against a large backlog races concurrent
// enqueues. Every id appended during the compaction run must survive a
// restart-time reconstruction, whether it landed before or after the
// swing-writer steps.
func TestCompactWithConcurrentAppendsRetainsFreshMessages(t *testing.T) {
	l, prefix := openTestLog(t, false)

	const backlog = 2000
	backlogIds := make([]message.Message, 0, backlog)
	for i := 0; i < backlog; i++ {
		msg := mustMessage(message.PriorityHigh)
		require.NoError(t, l.Append(msg))
		backlogIds = append(backlogIds, msg)
	}
	// Complete half the backlog so compaction has something to drop.
	for i, msg := range backlogIds {
		if i%2 == 0 {
			require.NoError(t, l.Complete(msg.Id))
		}
	}

	var wg sync.WaitGroup
	fresh := make([]message.Message, 10)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := mustMessage(message.PriorityHigh)
			fresh[i] = msg
			_ = l.Append(msg)
		}(i)
	}
	for i := 5; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := mustMessage(message.PriorityLow)
			fresh[i] = msg
			_ = l.Append(msg)
		}(i)
	}

	require.NoError(t, l.Compact())
	wg.Wait()
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())

	reopened, err := Open(Config{Prefix: prefix, RequireFlush: true})
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load()
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, m := range loaded.High {
		seen[m.Id.String()] = true
	}
	for _, m := range loaded.Low {
		seen[m.Id.String()] = true
	}
	for _, msg := range fresh {
		assert.True(t, seen[msg.Id.String()], "fresh message %s missing after compaction", msg.Id)
	}
}

func TestAckAfterRequeueWithoutReappendRemovesMessage(t *testing.T) {
	l, _ := openTestLog(t, true)

	msg := mustMessage(message.PriorityHigh)
	require.NoError(t, l.Append(msg))
	// A requeue-on-failure re-delivers the same id; it is not re-appended
	// to the durable log (the log only ever records the original enqueue
	// and, eventually, one completion).
	require.NoError(t, l.Complete(msg.Id))

	loaded, err := l.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.High)
}

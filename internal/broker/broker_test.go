package broker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlepper/brqueue/internal/message"
	"github.com/zlepper/brqueue/internal/storage"
	"github.com/zlepper/brqueue/internal/tagset"
)

func openTestBroker(t *testing.T) *Broker {
	t.Helper()
	dir := t.TempDir()
	b, err := Open(storage.Config{Prefix: filepath.Join(dir, "tasks"), RequireFlush: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// TestPopDeliversInEnqueueOrderWithinCapabilityClass mirrors spec.md §8
// scenario 1.
func TestPopDeliversInEnqueueOrderWithinCapabilityClass(t *testing.T) {
	b := openTestBroker(t)
	conn := b.NewConnection()

	_, err := b.Enqueue([]byte("foo"), message.PriorityHigh, tagset.New("foo"))
	require.NoError(t, err)
	_, err = b.Enqueue([]byte("bar"), message.PriorityHigh, tagset.New("bar"))
	require.NoError(t, err)

	caps := tagset.New("foo", "bar")

	first, ok := b.PopNoWait(conn, caps)
	require.True(t, ok)
	assert.Equal(t, "foo", string(first.Payload))

	second, ok := b.PopNoWait(conn, caps)
	require.True(t, ok)
	assert.Equal(t, "bar", string(second.Payload))

	_, ok = b.PopNoWait(conn, caps)
	assert.False(t, ok)
}

// TestHighDrainsBeforeLow mirrors spec.md §8 scenario 2.
func TestHighDrainsBeforeLow(t *testing.T) {
	b := openTestBroker(t)
	conn := b.NewConnection()

	_, err := b.Enqueue([]byte("foo"), message.PriorityHigh, tagset.New())
	require.NoError(t, err)
	_, err = b.Enqueue([]byte("bar"), message.PriorityLow, tagset.New())
	require.NoError(t, err)
	_, err = b.Enqueue([]byte("baz"), message.PriorityHigh, tagset.New())
	require.NoError(t, err)

	caps := tagset.New()
	var got []string
	for i := 0; i < 3; i++ {
		msg, ok := b.PopNoWait(conn, caps)
		require.True(t, ok)
		got = append(got, string(msg.Payload))
	}
	assert.Equal(t, []string{"foo", "baz", "bar"}, got)
}

// TestAcknowledgeRemovesMessage mirrors spec.md §8 scenario 3.
func TestAcknowledgeRemovesMessage(t *testing.T) {
	b := openTestBroker(t)
	conn := b.NewConnection()

	id, err := b.Enqueue([]byte("foo"), message.PriorityHigh, tagset.New())
	require.NoError(t, err)

	msg, ok := b.PopNoWait(conn, tagset.New())
	require.True(t, ok)
	assert.Equal(t, id, msg.Id)

	require.NoError(t, b.Acknowledge(conn, id))

	_, ok = b.PopNoWait(conn, tagset.New())
	assert.False(t, ok)
}

// TestFailRequeuesSameId mirrors spec.md §8 scenario 4.
func TestFailRequeuesSameId(t *testing.T) {
	b := openTestBroker(t)
	conn := b.NewConnection()

	id, err := b.Enqueue([]byte("foo"), message.PriorityHigh, tagset.New())
	require.NoError(t, err)

	msg, ok := b.PopNoWait(conn, tagset.New())
	require.True(t, ok)
	assert.Equal(t, id, msg.Id)

	require.NoError(t, b.Fail(conn, id))

	again, ok := b.PopNoWait(conn, tagset.New())
	require.True(t, ok)
	assert.Equal(t, id, again.Id)
}

// TestBlockingPopReceivesLateEnqueue mirrors spec.md §8 scenario 5: a
// blocking pop started on an empty queue must observe a message enqueued
// 50ms later, well before the 2s bound.
func TestBlockingPopReceivesLateEnqueue(t *testing.T) {
	b := openTestBroker(t)
	conn := b.NewConnection()

	resultCh := make(chan message.Message, 1)
	go func() {
		ctx := context.Background()
		msg, ok := b.Pop(ctx, conn, tagset.New("foo", "bar"))
		if ok {
			resultCh <- msg
		}
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := b.Enqueue([]byte("baz"), message.PriorityHigh, tagset.New("foo"))
	require.NoError(t, err)

	select {
	case msg := <-resultCh:
		assert.Equal(t, "baz", string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("blocking pop did not receive the late enqueue within 2s")
	}
}

func TestPopCancelledByConnectionDrop(t *testing.T) {
	b := openTestBroker(t)
	conn := b.NewConnection()

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan bool, 1)
	go func() {
		_, ok := b.Pop(ctx, conn, tagset.New())
		doneCh <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-doneCh:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not observe context cancellation")
	}
}

func TestDropConnectionRequeuesInFlightMessages(t *testing.T) {
	b := openTestBroker(t)
	conn := b.NewConnection()

	id, err := b.Enqueue([]byte("foo"), message.PriorityHigh, tagset.New())
	require.NoError(t, err)

	msg, ok := b.PopNoWait(conn, tagset.New())
	require.True(t, ok)
	assert.Equal(t, id, msg.Id)

	b.DropConnection(conn)

	other := b.NewConnection()
	again, ok := b.PopNoWait(other, tagset.New())
	require.True(t, ok)
	assert.Equal(t, id, again.Id)
}

// TestRestartRoundTrip mirrors spec.md §8 invariant 5: shutting down and
// reconstructing the broker yields a live set equal to all enqueued minus
// all acknowledged.
func TestRestartRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "tasks")

	b, err := Open(storage.Config{Prefix: prefix, RequireFlush: true}, nil)
	require.NoError(t, err)
	conn := b.NewConnection()

	keepId, err := b.Enqueue([]byte("keep"), message.PriorityHigh, tagset.New())
	require.NoError(t, err)
	ackId, err := b.Enqueue([]byte("ack"), message.PriorityLow, tagset.New())
	require.NoError(t, err)

	msg, ok := b.PopNoWait(conn, tagset.New())
	require.True(t, ok)
	require.Equal(t, keepId, msg.Id)

	msg2, ok := b.PopNoWait(conn, tagset.New())
	require.True(t, ok)
	require.Equal(t, ackId, msg2.Id)
	require.NoError(t, b.Acknowledge(conn, ackId))

	// keepId was popped but never acknowledged or failed: it is in
	// flight, not in a FIFO, when the broker shuts down.
	require.NoError(t, b.Close())

	reopened, err := Open(storage.Config{Prefix: prefix, RequireFlush: true}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	reconn := reopened.NewConnection()
	live, ok := reopened.PopNoWait(reconn, tagset.New())
	require.True(t, ok, "keepId must survive restart since its completion was never logged")
	assert.Equal(t, keepId, live.Id)

	_, ok = reopened.PopNoWait(reconn, tagset.New())
	assert.False(t, ok, "ackId must not reappear after restart")
}

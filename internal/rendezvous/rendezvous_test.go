package rendezvous_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlepper/brqueue/internal/message"
	"github.com/zlepper/brqueue/internal/rendezvous"
	"github.com/zlepper/brqueue/internal/tagset"
)

func TestOfferWithNoWaiterFails(t *testing.T) {
	r := rendezvous.New()
	ok := r.Offer(message.New([]byte("x"), tagset.New(), message.PriorityHigh))
	assert.False(t, ok)
}

func TestOfferDeliversToParkedWait(t *testing.T) {
	r := rendezvous.New()

	type result struct {
		msg message.Message
		ok  bool
	}
	done := make(chan result, 1)

	go func() {
		msg, ok := r.Wait(context.Background(), time.Second)
		done <- result{msg, ok}
	}()

	// Give the waiter time to park before offering.
	time.Sleep(20 * time.Millisecond)

	offered := message.New([]byte("baz"), tagset.New("foo"), message.PriorityHigh)
	require.True(t, r.Offer(offered))

	res := <-done
	require.True(t, res.ok)
	assert.Equal(t, offered.Id, res.msg.Id)
}

func TestWaitTimesOutWithoutOffer(t *testing.T) {
	r := rendezvous.New()

	start := time.Now()
	_, ok := r.Wait(context.Background(), 30*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitCancelledByContext(t *testing.T) {
	r := rendezvous.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := r.Wait(ctx, time.Second)
	assert.False(t, ok)
}

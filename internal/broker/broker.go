// Package broker ties the durable log, queue pair, rendezvous, and
// per-connection in-flight trackers into the five public operations of
// spec.md §4.5: enqueue, pop, acknowledge, fail, and drop_connection.
// Grounded on the teacher's Channel type (nsqd/channel.go), which plays
// the analogous role of owning a FIFO, an in-flight set, and the
// backend-file wiring for one logical queue.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zlepper/brqueue/internal/inflight"
	"github.com/zlepper/brqueue/internal/message"
	"github.com/zlepper/brqueue/internal/queue"
	"github.com/zlepper/brqueue/internal/rendezvous"
	"github.com/zlepper/brqueue/internal/storage"
	"github.com/zlepper/brqueue/internal/tagset"
)

// rescanInterval is the periodic re-scan tick of a blocking pop, per
// spec.md §4.5/§5: offers racing with a parked wait may have landed in
// the FIFO rather than been handed off directly, so a blocked pop must
// periodically give the FIFO another look rather than trusting the
// rendezvous alone.
const rescanInterval = time.Second

// Broker is the shared state every connection handler operates against.
// Grounded on the teacher's NSQD type in spirit (a single shared object
// reached by every client goroutine) but scoped to one logical queue, since
// this system has no topic/channel hierarchy.
type Broker struct {
	log *storage.Log

	queues     *queue.Pair
	rendezvous *rendezvous.Rendezvous

	logger *logrus.Entry

	// mu guards processing, the broker-global map from id to the
	// in-flight Message (spec.md §4.6): connections hold only ids, the
	// Message itself lives here so fail/drop_connection can re-enqueue it.
	mu         sync.Mutex
	processing map[uuid.UUID]message.Message
}

// Open opens the durable log at the given storage.Config, replays it into
// the in-memory queue pair (spec.md §4.5's mandated replay-on-start — the
// source's own omission is flagged in §9 as a bug, not reproduced here),
// and returns a ready Broker.
func Open(cfg storage.Config, logger *logrus.Entry) (*Broker, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	log, err := storage.Open(cfg)
	if err != nil {
		return nil, errors.Wrap(ErrStorage, err.Error())
	}

	b := &Broker{
		log:        log,
		queues:     queue.NewPair(),
		rendezvous: rendezvous.New(),
		logger:     logger.WithField("component", "broker"),
		processing: make(map[uuid.UUID]message.Message),
	}

	loaded, err := log.Load()
	if err != nil {
		return nil, errors.Wrap(ErrStorage, err.Error())
	}
	for _, msg := range loaded.High {
		b.queues.Push(msg)
	}
	for _, msg := range loaded.Low {
		b.queues.Push(msg)
	}
	b.logger.WithFields(logrus.Fields{
		"high": len(loaded.High),
		"low":  len(loaded.Low),
	}).Info("replayed durable log into queue pair")

	return b, nil
}

// Close flushes and closes the durable log.
func (b *Broker) Close() error {
	if err := b.log.Close(); err != nil {
		return errors.Wrap(ErrStorage, err.Error())
	}
	return nil
}

// Compact runs an online compaction pass on the durable log.
func (b *Broker) Compact() error {
	if err := b.log.Compact(); err != nil {
		return errors.Wrap(ErrGarbageCollectionFailed, err.Error())
	}
	return nil
}

// tryOffer attempts the rendezvous hand-off, falling back to the queue
// pair on failure. Used by both enqueue and fail/requeue paths, since
// both re-introduce a message to the population of deliverable work.
func (b *Broker) tryOffer(msg message.Message) {
	if b.rendezvous.Offer(msg) {
		return
	}
	b.queues.Push(msg)
}

// Enqueue appends msg to the durable log (the commit point: an error here
// means the message was never admitted) then makes it available for
// delivery via direct hand-off or the priority FIFO.
func (b *Broker) Enqueue(payload []byte, priority message.Priority, required tagset.Set) (uuid.UUID, error) {
	msg := message.New(payload, required, priority)

	if err := b.log.Append(msg); err != nil {
		return uuid.Nil, errors.Wrap(ErrStorage, err.Error())
	}

	b.tryOffer(msg)
	return msg.Id, nil
}

// track installs msg into the broker-global processing map and into
// conn's tracker. Per spec.md §9, a message accepted from the rendezvous
// must either be fully tracked or pushed back — never dropped — so this
// is the single choke point both Pop paths funnel through.
func (b *Broker) track(conn *Connection, msg message.Message) {
	b.mu.Lock()
	b.processing[msg.Id] = msg
	b.mu.Unlock()

	if err := conn.tracker.Track(msg.Id); err != nil {
		// Tracking can only fail if this connection already holds the
		// id, which cannot happen for a freshly popped message; treat it
		// as corruption rather than silently losing the hand-off.
		b.logger.WithError(err).WithField("id", msg.Id).Error("failed to track freshly popped message")
	}
}

// Pop attempts to deliver one message deliverable to capabilities. If
// none is immediately available, it parks on the
// rendezvous with a periodic FIFO re-scan until ctx is cancelled (the
// caller's connection dropped) or a message arrives.
func (b *Broker) Pop(ctx context.Context, conn *Connection, capabilities tagset.Set) (message.Message, bool) {
	if msg, ok := b.queues.Pop(capabilities); ok {
		b.track(conn, msg)
		return msg, true
	}

	for {
		select {
		case <-ctx.Done():
			return message.Message{}, false
		default:
		}

		msg, ok := b.rendezvous.Wait(ctx, rescanInterval)
		if ok {
			if msg.CanBeHandledBy(capabilities) {
				b.track(conn, msg)
				return msg, true
			}
			// Not deliverable to this consumer: push back so the
			// message is not lost, then keep waiting.
			b.queues.Push(msg)
			continue
		}

		if ctx.Err() != nil {
			return message.Message{}, false
		}

		// Timed out: re-scan the FIFOs before parking again, per
		// spec.md §4.5's rationale for the 1s tick.
		if msg, ok := b.queues.Pop(capabilities); ok {
			b.track(conn, msg)
			return msg, true
		}
	}
}

// PopNoWait is Pop with wait=false: a single immediate attempt.
func (b *Broker) PopNoWait(conn *Connection, capabilities tagset.Set) (message.Message, bool) {
	msg, ok := b.queues.Pop(capabilities)
	if !ok {
		return message.Message{}, false
	}
	b.track(conn, msg)
	return msg, true
}

// Acknowledge removes id from conn's in-flight set (a no-op if absent, so
// acknowledge is idempotent per spec.md §8 invariant 4) and records its
// completion durably.
func (b *Broker) Acknowledge(conn *Connection, id uuid.UUID) error {
	_ = conn.tracker.Untrack(id)

	b.mu.Lock()
	delete(b.processing, id)
	b.mu.Unlock()

	if err := b.log.Complete(id); err != nil {
		return errors.Wrap(ErrStorage, err.Error())
	}
	return nil
}

// Fail removes id from conn's in-flight set and, if the broker still
// holds the corresponding Message, re-enters it into the population of
// deliverable work. No completion-log write occurs.
func (b *Broker) Fail(conn *Connection, id uuid.UUID) error {
	_ = conn.tracker.Untrack(id)
	b.requeue(id)
	return nil
}

// requeue moves id out of processing and back onto the rendezvous/FIFO
// path, if the broker still holds it.
func (b *Broker) requeue(id uuid.UUID) {
	b.mu.Lock()
	msg, ok := b.processing[id]
	if ok {
		delete(b.processing, id)
	}
	b.mu.Unlock()

	if ok {
		b.tryOffer(msg)
	}
}

// DropConnection requeues every id still held in conn's tracker. Called
// when a client session terminates without acknowledging or failing its
// in-flight messages explicitly.
func (b *Broker) DropConnection(conn *Connection) {
	for _, id := range conn.tracker.Ids() {
		_ = conn.tracker.Untrack(id)
		b.requeue(id)
	}
}

// Connection is the per-client handle a front end creates for the
// lifetime of one authenticated session. It owns exactly the in-flight
// ids that connection has popped but not yet resolved.
type Connection struct {
	tracker *inflight.Tracker
}

// NewConnection returns a fresh, empty Connection handle.
func (b *Broker) NewConnection() *Connection {
	return &Connection{tracker: inflight.New()}
}

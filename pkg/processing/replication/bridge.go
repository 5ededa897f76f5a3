package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/transport"
)

var (
	ErrQueueFull    = errors.New("publish queue full")
	ErrBridgeClosed = errors.New("bridge closed")
)

// Source provides the snapshots of an authoritative racer
type Source interface {
	ID() model.RacerID
	Snapshot() model.RacerSnapshot
}

// Bridge publishes the state of authoritative racers to replicas.
// Updates are queued and sent by a separate goroutine, so Publish never
// waits for the transport.
type Bridge struct {
	pub       transport.Publisher
	origin    string
	timeout   time.Duration
	queueSize int
	l         *log.Logger

	queue     chan transport.Update
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	pending   atomic.Int64
	dropped   atomic.Int64

	mu        sync.Mutex
	published map[model.RacerID]uint64
}

type BridgeOption func(*Bridge)

// WithOrigin sets the id put into each published update
func WithOrigin(origin string) BridgeOption {
	return func(b *Bridge) {
		b.origin = origin
	}
}

func WithBridgeLogger(l *log.Logger) BridgeOption {
	return func(b *Bridge) {
		b.l = l
	}
}

// WithQueueSize sets how many updates may wait for the transport
func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) {
		b.queueSize = n
	}
}

// WithPublishTimeout limits the time a single transport publish may take
func WithPublishTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.timeout = d
	}
}

func NewBridge(pub transport.Publisher, opts ...BridgeOption) *Bridge {
	ret := &Bridge{
		pub:       pub,
		timeout:   5 * time.Second,
		queueSize: 256,
		published: make(map[model.RacerID]uint64),
		l:         log.Default().Named("replication"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.queue = make(chan transport.Update, ret.queueSize)
	go ret.run()
	return ret
}

// Publish queues the current snapshot of src if it was not queued before.
// Returns true if an update was queued. A full queue is reported with
// ErrQueueFull, the snapshot is then queued again by the next call.
func (b *Bridge) Publish(ctx context.Context, src Source) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s := src.Snapshot()
	b.mu.Lock()
	defer b.mu.Unlock()
	if last, ok := b.published[s.ID]; ok && s.Seq <= last {
		return false, nil
	}
	u := transport.Update{
		Kind:     transport.KindState,
		Origin:   b.origin,
		Snapshot: s,
	}
	select {
	case <-b.stop:
		return false, ErrBridgeClosed
	default:
	}
	b.pending.Add(1)
	select {
	case b.queue <- u:
		b.published[s.ID] = s.Seq
		return true, nil
	default:
		b.pending.Add(-1)
		b.dropped.Add(1)
		return false, fmt.Errorf("publish %s: %w", s.ID, ErrQueueFull)
	}
}

// Leave announces that the racer left the session.
// The announcement is queued behind pending state updates of the racer.
func (b *Bridge) Leave(ctx context.Context, id model.RacerID) error {
	b.mu.Lock()
	delete(b.published, id)
	b.mu.Unlock()
	b.l.Debug("racer leaves", log.String("racer", string(id)))
	u := transport.Update{
		Kind:     transport.KindLeave,
		Origin:   b.origin,
		Snapshot: model.RacerSnapshot{ID: id},
	}
	select {
	case <-b.stop:
		return ErrBridgeClosed
	default:
	}
	b.pending.Add(1)
	select {
	case b.queue <- u:
		return nil
	case <-b.stop:
		b.pending.Add(-1)
		return ErrBridgeClosed
	case <-ctx.Done():
		b.pending.Add(-1)
		return fmt.Errorf("publish leave %s: %w", id, ctx.Err())
	}
}

// Resync forgets what was published so that the next Publish sends the
// full state of every racer again
func (b *Bridge) Resync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.published)
}

// Pending returns the number of updates not yet handed to the transport
func (b *Bridge) Pending() int {
	return int(b.pending.Load())
}

// Dropped returns the number of updates rejected because of a full queue
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// Close sends the queued updates and stops the bridge
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.stop) })
	<-b.done
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		select {
		case u := <-b.queue:
			b.send(u)
		case <-b.stop:
			for {
				select {
				case u := <-b.queue:
					b.send(u)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) send(u transport.Update) {
	defer b.pending.Add(-1)
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	err := b.pub.Publish(ctx, u)
	if err == nil {
		return
	}
	b.l.Warn("could not publish update",
		log.String("racer", string(u.Snapshot.ID)),
		log.String("kind", u.Kind.String()),
		log.ErrorField(err))
	if u.Kind != transport.KindState {
		return
	}
	// the next Publish sends the racer again
	b.mu.Lock()
	if b.published[u.Snapshot.ID] == u.Snapshot.Seq {
		delete(b.published, u.Snapshot.ID)
	}
	b.mu.Unlock()
}

// Package local provides an in-process transport.
// All sessions attached to the same Bus see each other's updates.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/transport"
	"github.com/mpapenbr/race-progress/pkg/utils/broadcast"
)

type Bus struct {
	mu     sync.RWMutex
	closed bool
	source chan transport.Update
	srv    broadcast.Server[transport.Update]
}

type Option func(*config)

type config struct {
	buffer      int
	sendTimeout time.Duration
	l           *log.Logger
}

// WithBuffer sets the capacity of each subscriber channel
func WithBuffer(n int) Option {
	return func(c *config) {
		c.buffer = n
	}
}

// WithSendTimeout sets how long an update waits for a subscriber with a
// full channel before it is skipped for that subscriber
func WithSendTimeout(d time.Duration) Option {
	return func(c *config) {
		c.sendTimeout = d
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		c.l = l
	}
}

func NewBus(opts ...Option) *Bus {
	cfg := &config{
		buffer:      64,
		sendTimeout: 50 * time.Millisecond,
		l:           log.Default().Named("transport.local"),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	source := make(chan transport.Update)
	return &Bus{
		source: source,
		srv: broadcast.NewServer("local", source,
			broadcast.WithBuffer[transport.Update](cfg.buffer),
			broadcast.WithSendTimeout[transport.Update](cfg.sendTimeout),
			broadcast.WithLogger[transport.Update](cfg.l)),
	}
}

var _ transport.Transport = (*Bus)(nil)

func (b *Bus) Publish(ctx context.Context, u transport.Update) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return transport.ErrClosed
	}
	select {
	case b.source <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

//nolint:whitespace // can't make both editor and linter happy
func (b *Bus) Subscribe(ctx context.Context) (
	updates <-chan transport.Update,
	cancel func(),
	err error,
) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, nil, transport.ErrClosed
	}
	ch := b.srv.Subscribe()
	var once sync.Once
	return ch, func() { once.Do(func() { b.srv.CancelSubscription(ch) }) }, nil
}

// Close stops the bus. All subscriber channels are closed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.source)
	b.mu.Unlock()
	b.srv.Close()
	return nil
}

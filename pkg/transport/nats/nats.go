// Package nats distributes racer updates between processes via NATS.
// The last state of every racer is kept in a jetstream key value bucket
// so that late joining replicas can catch up.
package nats

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/processing/replication"
	"github.com/mpapenbr/race-progress/pkg/transport"
)

type (
	Transport struct {
		ctx     context.Context
		conn    *nats.Conn
		session string
		codec   *replication.Codec
		kv      jetstream.KeyValue
		useKV   bool
		ttl     time.Duration
		buffer  int
		l       *log.Logger

		mu     sync.Mutex
		closed bool
		subs   map[*subscription]struct{}
	}
	Option func(*Transport)

	subscription struct {
		sub  *nats.Subscription
		msgs chan *nats.Msg
		done chan struct{}
		once sync.Once
	}
)

var _ transport.Transport = (*Transport)(nil)

func WithContext(ctx context.Context) Option {
	return func(t *Transport) {
		t.ctx = ctx
	}
}

func WithLogger(l *log.Logger) Option {
	return func(t *Transport) {
		t.l = l
	}
}

// WithSnapshotStore enables or disables the key value bucket for late joiners
func WithSnapshotStore(enabled bool) Option {
	return func(t *Transport) {
		t.useKV = enabled
	}
}

// WithSnapshotTTL sets how long the last state of a racer is kept
func WithSnapshotTTL(d time.Duration) Option {
	return func(t *Transport) {
		t.ttl = d
	}
}

func WithBuffer(n int) Option {
	return func(t *Transport) {
		t.buffer = n
	}
}

func New(conn *nats.Conn, session string, opts ...Option) (*Transport, error) {
	ret := &Transport{
		ctx:     context.Background(),
		conn:    conn,
		session: session,
		codec:   replication.NewCodec(),
		useKV:   true,
		ttl:     time.Hour,
		buffer:  256,
		l:       log.Default().Named("transport.nats"),
		subs:    make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.useKV {
		if err := ret.setupKV(); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func (t *Transport) setupKV() error {
	js, err := jetstream.New(t.conn)
	if err != nil {
		return err
	}
	t.kv, err = js.CreateOrUpdateKeyValue(t.ctx, jetstream.KeyValueConfig{
		Bucket: bucketName(t.session),
		TTL:    t.ttl,
	})
	if err != nil {
		return fmt.Errorf("create snapshot bucket: %w", err)
	}
	return nil
}

func (t *Transport) subject(k transport.Kind) string {
	return fmt.Sprintf("race.%s.%s", t.session, k)
}

func (t *Transport) Publish(ctx context.Context, u transport.Update) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	data := t.codec.Encode(u)
	if err := t.conn.Publish(t.subject(u.Kind), data); err != nil {
		return err
	}
	if t.kv == nil {
		return nil
	}
	key := racerKey(string(u.Snapshot.ID))
	switch u.Kind {
	case transport.KindState:
		if _, err := t.kv.Put(ctx, key, data); err != nil {
			t.l.Warn("could not store snapshot",
				log.String("racer", string(u.Snapshot.ID)), log.ErrorField(err))
		}
	case transport.KindLeave:
		if err := t.kv.Delete(ctx, key); err != nil {
			t.l.Warn("could not delete snapshot",
				log.String("racer", string(u.Snapshot.ID)), log.ErrorField(err))
		}
	}
	return nil
}

// Subscribe delivers the stored snapshots first, followed by live updates.
//
//nolint:whitespace // can't make both editor and linter happy
func (t *Transport) Subscribe(ctx context.Context) (
	updates <-chan transport.Update,
	cancel func(),
	err error,
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil, transport.ErrClosed
	}
	s := &subscription{
		msgs: make(chan *nats.Msg, t.buffer),
		done: make(chan struct{}),
	}
	if s.sub, err = t.conn.ChanSubscribe(fmt.Sprintf("race.%s.*", t.session), s.msgs); err != nil {
		return nil, nil, err
	}
	t.subs[s] = struct{}{}

	out := make(chan transport.Update, t.buffer)
	go func() {
		defer close(out)
		t.replayStored(ctx, s, out)
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case msg := <-s.msgs:
				t.forward(msg.Data, s, out)
			}
		}
	}()
	return out, func() { t.cancel(s) }, nil
}

func (t *Transport) replayStored(ctx context.Context, s *subscription, out chan<- transport.Update) {
	if t.kv == nil {
		return
	}
	lister, err := t.kv.ListKeys(ctx)
	if err != nil {
		t.l.Warn("could not list snapshots", log.ErrorField(err))
		return
	}
	defer func() { _ = lister.Stop() }()
	for key := range lister.Keys() {
		entry, err := t.kv.Get(ctx, key)
		if err != nil {
			t.l.Debug("snapshot vanished", log.String("key", key), log.ErrorField(err))
			continue
		}
		if !t.forward(entry.Value(), s, out) {
			return
		}
	}
}

// forward decodes data and passes it to out.
// Returns false if the subscription ended while waiting.
func (t *Transport) forward(data []byte, s *subscription, out chan<- transport.Update) bool {
	u, err := t.codec.Decode(data)
	if err != nil {
		t.l.Warn("dropping update", log.ErrorField(err))
		return true
	}
	select {
	case out <- u:
		return true
	case <-s.done:
		return false
	}
}

func (t *Transport) cancel(s *subscription) {
	s.once.Do(func() {
		if err := s.sub.Unsubscribe(); err != nil {
			t.l.Debug("unsubscribe", log.ErrorField(err))
		}
		close(s.done)
		t.mu.Lock()
		delete(t.subs, s)
		t.mu.Unlock()
	})
}

// Close cancels all subscriptions and closes the connection
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()
	for _, s := range subs {
		t.cancel(s)
	}
	t.conn.Close()
	return nil
}

// bucket names may only contain letters, digits, dash and underscore
func bucketName(session string) string {
	return "race_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, session)
}

func racerKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

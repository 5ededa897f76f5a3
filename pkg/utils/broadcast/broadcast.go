// Package broadcast fans out messages of a single source channel to any
// number of listeners.
package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/race-progress/log"
)

type Server[T any] interface {
	Subscribe() <-chan T
	CancelSubscription(<-chan T)
	Close()
}

type server[T any] struct {
	name           string
	source         <-chan T
	listeners      []chan T
	addListener    chan chan T
	removeListener chan (<-chan T)
	done           chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	sendTimeout    time.Duration
	buffer         int
	l              *log.Logger

	numRcv      atomic.Int64
	numSnd      atomic.Int64
	numSkip     atomic.Int64
	numListener atomic.Int64
}

type Option[T any] func(*server[T])

// WithSendTimeout sets how long a message may wait for a slow listener
// before it is skipped for that listener
func WithSendTimeout[T any](d time.Duration) Option[T] {
	return func(s *server[T]) {
		s.sendTimeout = d
	}
}

// WithBuffer sets the capacity of listener channels
func WithBuffer[T any](n int) Option[T] {
	return func(s *server[T]) {
		s.buffer = n
	}
}

func WithLogger[T any](l *log.Logger) Option[T] {
	return func(s *server[T]) {
		s.l = l
	}
}

// NewServer starts serving messages from source.
// Listener channels are closed when source is closed or Close is called.
func NewServer[T any](name string, source <-chan T, opts ...Option[T]) Server[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &server[T]{
		name:           name,
		source:         source,
		addListener:    make(chan chan T),
		removeListener: make(chan (<-chan T)),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		sendTimeout:    50 * time.Millisecond,
		buffer:         16,
		l:              log.Default().Named("broadcast"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMetrics()
	go s.serve()
	return s
}

func (s *server[T]) Subscribe() <-chan T {
	ch := make(chan T, s.buffer)
	select {
	case s.addListener <- ch:
	case <-s.done:
		close(ch)
	}
	return ch
}

func (s *server[T]) CancelSubscription(ch <-chan T) {
	select {
	case s.removeListener <- ch:
	case <-s.done:
	}
}

func (s *server[T]) Close() {
	s.l.Info("Closing broadcast server",
		log.String("name", s.name),
		log.Int64("rcv", s.numRcv.Load()),
		log.Int64("snd", s.numSnd.Load()),
		log.Int64("skip", s.numSkip.Load()))
	s.cancel()
	<-s.done
}

func (s *server[T]) setupMetrics() {
	meter := otel.GetMeterProvider().Meter(fmt.Sprintf("rpt.broadcast.%s", s.name))
	register := func(metricName, desc string, value *atomic.Int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(value.Load(),
					metric.WithAttributes(attribute.String("name", s.name)))
				return nil
			})); err != nil {
			s.l.Error("failed to register metric",
				log.String("metric", metricName),
				log.ErrorField(err))
		}
	}
	register("rpt.broadcast.rcv", "Number of received messages", &s.numRcv)
	register("rpt.broadcast.snd", "Number of sent messages", &s.numSnd)
	register("rpt.broadcast.skip", "Number of skipped messages", &s.numSkip)
	register("rpt.broadcast.listener", "Number of listeners", &s.numListener)
}

//nolint:cyclop // select loop
func (s *server[T]) serve() {
	defer func() {
		s.l.Debug("Closing listeners", log.String("name", s.name))
		for _, listener := range s.listeners {
			close(listener)
		}
		s.listeners = nil
		s.numListener.Store(0)
		close(s.done)
	}()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ch := <-s.addListener:
			s.listeners = append(s.listeners, ch)
			s.numListener.Store(int64(len(s.listeners)))
		case ch := <-s.removeListener:
			for i, listener := range s.listeners {
				if listener == ch {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					close(listener)
					break
				}
			}
			s.numListener.Store(int64(len(s.listeners)))
			s.l.Debug("removed listener",
				log.String("name", s.name), log.Int("len", len(s.listeners)))
		case msg, ok := <-s.source:
			if !ok {
				s.l.Debug("source closed", log.String("name", s.name))
				return
			}
			s.numRcv.Add(1)
			s.send(msg)
		}
	}
}

func (s *server[T]) send(msg T) {
	for _, listener := range s.listeners {
		select {
		case listener <- msg:
			s.numSnd.Add(1)
		case <-time.After(s.sendTimeout):
			s.numSkip.Add(1)
		}
	}
}

package transport

import (
	"context"
	"errors"

	"github.com/mpapenbr/race-progress/pkg/model"
)

type Kind int

const (
	// KindState carries the networked fields of a racer
	KindState Kind = iota + 1
	// KindLeave signals that the racer left the session
	KindLeave
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindLeave:
		return "leave"
	default:
		return "unknown"
	}
}

type (
	// Update is the unit exchanged between authority and replicas.
	// Origin identifies the publishing session so that a subscriber can
	// ignore its own updates.
	Update struct {
		Kind     Kind
		Origin   string
		Snapshot model.RacerSnapshot
	}

	// Publisher is used by the authority to distribute racer updates
	Publisher interface {
		Publish(ctx context.Context, u Update) error
	}

	// Subscriber provides the updates of all authorities of a session.
	// The returned channel is closed when cancel is called or the
	// transport is closed.
	Subscriber interface {
		Subscribe(ctx context.Context) (updates <-chan Update, cancel func(), err error)
	}

	Transport interface {
		Publisher
		Subscriber
		Close() error
	}

	// Discard is a transport for sessions without remote participants.
	// Published updates are dropped.
	Discard struct{}
)

var ErrClosed = errors.New("transport closed")

func (d Discard) Publish(ctx context.Context, u Update) error {
	return nil
}

//nolint:whitespace // can't make both editor and linter happy
func (d Discard) Subscribe(ctx context.Context) (
	updates <-chan Update,
	cancel func(),
	err error,
) {
	ch := make(chan Update)
	close(ch)
	return ch, func() {}, nil
}

func (d Discard) Close() error {
	return nil
}

package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/transport"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	ch1, cancel1, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel2()

	u := transport.Update{
		Kind:     transport.KindState,
		Origin:   "s1",
		Snapshot: model.RacerSnapshot{ID: "A", Seq: 3, Progress: 0.4},
	}
	require.NoError(t, bus.Publish(ctx, u))
	for _, ch := range []<-chan transport.Update{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, u, got)
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
}

func TestClose(t *testing.T) {
	bus := NewBus()
	ch, cancel, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Close())
	_, ok := <-ch
	assert.False(t, ok)

	err = bus.Publish(context.Background(), transport.Update{Kind: transport.KindLeave})
	assert.ErrorIs(t, err, transport.ErrClosed)
	_, _, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.NoError(t, bus.Close())
}

//nolint:funlen // ok for tests
package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/transport"
	"github.com/mpapenbr/race-progress/testsupport/tcnats"
)

func setupServer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	c, err := tcnats.SetupNats(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	return c.URL
}

func newTransport(t *testing.T, url, session string) *Transport {
	t.Helper()
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	tr, err := New(conn, session)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func next(t *testing.T, ch <-chan transport.Update) transport.Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "channel closed")
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for update")
	}
	return transport.Update{}
}

func TestPublishSubscribe(t *testing.T) {
	url := setupServer(t)
	ctx := context.Background()
	authority := newTransport(t, url, "s1")
	replica := newTransport(t, url, "s1")
	other := newTransport(t, url, "s2")

	ch, cancel, err := replica.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()
	otherCh, otherCancel, err := other.Subscribe(ctx)
	require.NoError(t, err)
	defer otherCancel()

	state := transport.Update{
		Kind:     transport.KindState,
		Origin:   "authority",
		Snapshot: model.RacerSnapshot{ID: "A", Seq: 4, Progress: 0.3, BestLapTime: 12.5},
	}
	require.NoError(t, authority.Publish(ctx, state))
	assert.Equal(t, state, next(t, ch))

	leave := transport.Update{
		Kind:     transport.KindLeave,
		Origin:   "authority",
		Snapshot: model.RacerSnapshot{ID: "A"},
	}
	require.NoError(t, authority.Publish(ctx, leave))
	assert.Equal(t, leave, next(t, ch))

	select {
	case u := <-otherCh:
		t.Errorf("other session received %v", u)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLateJoinerReceivesStoredState(t *testing.T) {
	url := setupServer(t)
	ctx := context.Background()
	authority := newTransport(t, url, "s1")

	for _, id := range []model.RacerID{"A", "B"} {
		require.NoError(t, authority.Publish(ctx, transport.Update{
			Kind:     transport.KindState,
			Snapshot: model.RacerSnapshot{ID: id, Seq: 1, Progress: 0.1},
		}))
	}
	require.NoError(t, authority.Publish(ctx, transport.Update{
		Kind:     transport.KindLeave,
		Snapshot: model.RacerSnapshot{ID: "B"},
	}))

	late := newTransport(t, url, "s1")
	ch, cancel, err := late.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()
	u := next(t, ch)
	assert.Equal(t, transport.KindState, u.Kind)
	assert.Equal(t, model.RacerID("A"), u.Snapshot.ID)
}

func TestBucketName(t *testing.T) {
	assert.Equal(t, "race_abc-123", bucketName("abc-123"))
	assert.Equal(t, "race_a_b_c", bucketName("a.b c"))
}

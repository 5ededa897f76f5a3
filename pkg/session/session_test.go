//nolint:funlen // ok for tests
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/lifecycle"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/motion"
	"github.com/mpapenbr/race-progress/pkg/ranking"
	"github.com/mpapenbr/race-progress/pkg/track"
	"github.com/mpapenbr/race-progress/pkg/transport"
	"github.com/mpapenbr/race-progress/pkg/transport/local"
	"github.com/mpapenbr/race-progress/testsupport/trackdata"
)

func testSettings() config.RaceSettings {
	s := config.DefaultRaceSettings()
	s.TickRate = 10
	s.RefreshRate = 10
	return s
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	all := append([]Option{
		WithAggregator(ranking.NewAggregator()),
		WithSettings(testSettings()),
	}, opts...)
	s, err := New(trackdata.Square(), all...)
	require.NoError(t, err)
	return s
}

func TestNewConfigErrors(t *testing.T) {
	_, err := New(trackdata.Square())
	assert.ErrorIs(t, err, ErrNoAggregator)

	_, err = New(nil, WithAggregator(ranking.NewAggregator()))
	assert.ErrorIs(t, err, ErrNoTrack)

	bad := config.DefaultRaceSettings()
	bad.TotalLaps = 0
	_, err = New(trackdata.Square(),
		WithAggregator(ranking.NewAggregator()), WithSettings(bad))
	assert.ErrorIs(t, err, config.ErrInvalidSettings)

	tight, err := track.New("tight", []model.Vector3{
		model.Vec(0, 0, 0), model.Vec(5, 0, 0), model.Vec(5, 0, 5),
	})
	require.NoError(t, err)
	_, err = New(tight, WithAggregator(ranking.NewAggregator()))
	assert.ErrorIs(t, err, track.ErrSpacingTooSmall)
}

func TestJoinLeave(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	tr := trackdata.Square()

	_, err := s.Join("A", motion.NewPathFollower(tr, 10))
	require.NoError(t, err)
	_, err = s.Join("A", motion.NewPathFollower(tr, 10))
	assert.ErrorIs(t, err, ErrRacerExists)
	_, err = s.AddReplica("A")
	assert.ErrorIs(t, err, ErrRacerExists)

	m1, err := s.AddReplica("R")
	require.NoError(t, err)
	m2, err := s.AddReplica("R")
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, 2, s.Aggregator().Len())

	require.NoError(t, s.Leave(ctx, "A"))
	require.NoError(t, s.Leave(ctx, "R"))
	require.NoError(t, s.Leave(ctx, "unknown"))
	assert.Equal(t, 0, s.Aggregator().Len())
	assert.Empty(t, s.LocalRacers())
}

func TestRaceToFinish(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	tr := trackdata.Square()

	fast, err := s.Join("fast", motion.NewPathFollower(tr, 20))
	require.NoError(t, err)
	slow, err := s.Join("slow", motion.NewPathFollower(tr, 10))
	require.NoError(t, err)
	assert.Equal(t, []model.RacerID{"fast", "slow"}, s.LocalRacers())

	events, cancel := s.RaceClock().Subscribe()
	defer cancel()
	s.Start()
	require.Equal(t, lifecycle.RaceStarted, <-events)

	var fastFinished model.RacerSnapshot
	for i := 0; i < 500 && s.RaceClock().Active(); i++ {
		s.Tick(ctx)
		if fastFinished.LapsCompleted == 0 && fast.Snapshot().LapsCompleted == 1 {
			fastFinished = fast.Snapshot()
			assert.Equal(t, 1, s.Aggregator().PositionOf("fast"))
			assert.Equal(t, 2, s.Aggregator().PositionOf("slow"))
		}
	}
	require.False(t, s.RaceClock().Active(), "race should have ended")
	assert.Equal(t, lifecycle.RaceEnded, <-events)

	fs := fast.Snapshot()
	ss := slow.Snapshot()
	assert.Equal(t, 1, fs.LapsCompleted)
	assert.Equal(t, 1, ss.LapsCompleted)
	assert.InDelta(t, 7.1, fs.LastLapTime, 0.15)
	assert.InDelta(t, 14.1, ss.LastLapTime, 0.15)
	assert.InDelta(t, fs.LastLapTime, fs.TotalRaceTime, 1e-9)
	assert.InDelta(t, fs.LastLapTime, fs.BestLapTime, 1e-9)
	// finished racers are no longer advanced
	assert.Equal(t, fastFinished, fs)
}

func TestReplicationBetweenSessions(t *testing.T) {
	ctx := context.Background()
	bus := local.NewBus()
	defer bus.Close()
	tr := trackdata.Square()

	a := newSession(t, WithTransport(bus), WithID("a"))
	b := newSession(t, WithTransport(bus), WithID("b"))
	updatesA, cancelA, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancelA()
	updatesB, cancelB, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancelB()

	_, err = a.Join("A", motion.NewPathFollower(tr, 10))
	require.NoError(t, err)
	a.Start()
	a.Tick(ctx)

	receive := func(ch <-chan transport.Update) transport.Update {
		select {
		case u := <-ch:
			return u
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
		return transport.Update{}
	}

	// own updates are ignored
	a.HandleUpdate(ctx, receive(updatesA))
	assert.Equal(t, 1, a.Aggregator().Len())

	progressB, cancelP := b.Aggregator().SubscribeProgress()
	defer cancelP()
	b.HandleUpdate(ctx, receive(updatesB))
	m, ok := b.Mirror("A")
	require.True(t, ok)
	tracker, _ := a.Tracker("A")
	assert.Equal(t, tracker.Snapshot(), m.Snapshot())
	assert.Equal(t, 1, b.Aggregator().Len())

	assert.Equal(t, 1, b.Refresh())
	assert.Equal(t, model.RacerID("A"), <-progressB)
	assert.Equal(t, 0, b.Refresh())

	require.NoError(t, a.Leave(ctx, "A"))
	leave := receive(updatesB)
	assert.Equal(t, transport.KindLeave, leave.Kind)
	b.HandleUpdate(ctx, leave)
	_, ok = b.Mirror("A")
	assert.False(t, ok)
	assert.Equal(t, 0, b.Aggregator().Len())
}

func TestHandleUpdateForLocalRacer(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	_, err := s.Join("A", motion.NewPathFollower(trackdata.Square(), 10))
	require.NoError(t, err)
	s.HandleUpdate(ctx, transport.Update{
		Kind:     transport.KindState,
		Origin:   "other",
		Snapshot: model.RacerSnapshot{ID: "A", Seq: 99, LapsCompleted: 7},
	})
	tr, _ := s.Tracker("A")
	assert.Equal(t, 0, tr.Snapshot().LapsCompleted)
	_, ok := s.Mirror("A")
	assert.False(t, ok)
}

func TestRun(t *testing.T) {
	settings := testSettings()
	settings.TickRate = 100
	s := newSession(t, WithSettings(settings))
	_, err := s.Join("A", motion.NewPathFollower(trackdata.Square(), 10))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.False(t, s.RaceClock().Active())
	assert.Greater(t, s.Clock().Now(), 0.0)
	tr, _ := s.Tracker("A")
	assert.Positive(t, tr.Snapshot().Progress)
}

func TestLaggingReplicaConverges(t *testing.T) {
	ctx := context.Background()
	bus := local.NewBus(local.WithBuffer(4), local.WithSendTimeout(time.Millisecond))
	defer bus.Close()
	tr := trackdata.Square()

	a := newSession(t, WithTransport(bus), WithID("a"))
	b := newSession(t, WithTransport(bus), WithID("b"))
	updates, cancel, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	tracker, err := a.Join("A", motion.NewPathFollower(tr, 20))
	require.NoError(t, err)
	a.Start()
	start := time.Now()
	// the replica does not read while the authority finishes the race
	for i := 0; i < 200; i++ {
		a.Tick(ctx)
	}
	assert.Less(t, time.Since(start), 2*time.Second, "ticks must not wait for replicas")
	require.False(t, a.RaceClock().Active())
	final := tracker.Snapshot()
	require.Equal(t, 1, final.LapsCompleted)
	require.Eventually(t, func() bool { return a.bridge.Pending() == 0 },
		5*time.Second, 5*time.Millisecond)

	// only the first updates reached the replica
	for n := len(updates); n > 0; n-- {
		b.HandleUpdate(ctx, <-updates)
	}
	m, ok := b.Mirror("A")
	require.True(t, ok)
	assert.Less(t, m.Snapshot().Seq, final.Seq)
	assert.Equal(t, 0, m.Snapshot().LapsCompleted)

	// the finished racer is sent again
	assert.Equal(t, 1, a.Resync(ctx))
	select {
	case u := <-updates:
		b.HandleUpdate(ctx, u)
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	assert.Equal(t, final, m.Snapshot())
	assert.Equal(t, 1, b.Refresh())
	assert.Equal(t, 1, b.Aggregator().PositionOf("A"))
}

func TestLeaveAllAnnouncesLocalRacers(t *testing.T) {
	ctx := context.Background()
	bus := local.NewBus()
	defer bus.Close()
	tr := trackdata.Square()

	a := newSession(t, WithTransport(bus), WithID("a"))
	b := newSession(t, WithTransport(bus), WithID("b"))
	updates, cancel, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	for _, id := range []model.RacerID{"A1", "A2"} {
		_, err := a.Join(id, motion.NewPathFollower(tr, 10))
		require.NoError(t, err)
	}
	a.Start()
	a.Tick(ctx)

	handle := func() {
		select {
		case u := <-updates:
			b.HandleUpdate(ctx, u)
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
	handle()
	handle()
	assert.Equal(t, 2, b.Aggregator().Len())

	require.NoError(t, a.LeaveAll(ctx))
	assert.Empty(t, a.LocalRacers())
	handle()
	handle()
	assert.Equal(t, 0, b.Aggregator().Len())
}

package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/motion"
	"github.com/mpapenbr/race-progress/pkg/ranking"
	"github.com/mpapenbr/race-progress/pkg/session"
	"github.com/mpapenbr/race-progress/pkg/transport"
	"github.com/mpapenbr/race-progress/pkg/transport/local"
	"github.com/mpapenbr/race-progress/testsupport/trackdata"
)

func TestCloseSessionAnnouncesLeave(t *testing.T) {
	ctx := context.Background()
	bus := local.NewBus()
	tr := trackdata.Square()
	sess, err := session.New(tr,
		session.WithID("a"),
		session.WithAggregator(ranking.NewAggregator()),
		session.WithSettings(config.DefaultRaceSettings()),
		session.WithTransport(bus))
	require.NoError(t, err)
	updates, cancel, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	for _, id := range []model.RacerID{"A1", "A2"} {
		_, err := sess.Join(id, motion.NewPathFollower(tr, 10))
		require.NoError(t, err)
	}
	CloseSession(sess)

	// the bus is closed with the session, queued updates are still readable
	var left []model.RacerID
	for u := range updates {
		if u.Kind == transport.KindLeave {
			left = append(left, u.Snapshot.ID)
		}
	}
	assert.ElementsMatch(t, []model.RacerID{"A1", "A2"}, left)
	assert.Empty(t, sess.LocalRacers())
}

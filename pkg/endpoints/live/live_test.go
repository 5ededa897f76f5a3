package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/ranking"
	"github.com/mpapenbr/race-progress/pkg/standings"
	"github.com/mpapenbr/race-progress/pkg/utils/notify"
)

type fakeSource struct {
	mu    sync.Mutex
	snaps []model.RacerSnapshot
	hub   *notify.Hub[ranking.RankingsChanged]
}

func newFakeSource(snaps ...model.RacerSnapshot) *fakeSource {
	return &fakeSource{snaps: snaps, hub: notify.NewHub[ranking.RankingsChanged]()}
}

func (f *fakeSource) Sorted() []ranking.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]ranking.Entry, len(f.snaps))
	for i := range f.snaps {
		ret[i] = ranking.Entry{Snapshot: f.snaps[i]}
	}
	return ret
}

func (f *fakeSource) Standings() standings.View {
	return standings.Build(f, 3, 0, standings.WithTrack("square"))
}

func (f *fakeSource) SubscribeRankings() (<-chan ranking.RankingsChanged, func()) {
	return f.hub.Subscribe(notify.DefaultBuffer)
}

func (f *fakeSource) set(snaps ...model.RacerSnapshot) {
	f.mu.Lock()
	f.snaps = snaps
	f.mu.Unlock()
	f.hub.Publish(ranking.RankingsChanged{})
}

func racers(t *testing.T, payload []byte) []any {
	t.Helper()
	doc, err := oj.Parse(payload)
	require.NoError(t, err)
	return jp.MustParseString("$.rows[*].racer").Get(doc)
}

func newServer(t *testing.T, src Source) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(src, WithInterval(10*time.Millisecond)).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServeStandings(t *testing.T) {
	src := newFakeSource(model.RacerSnapshot{ID: "A"}, model.RacerSnapshot{ID: "B"})
	srv := newServer(t, src)

	resp, err := http.Get(srv.URL + "/standings")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	doc, err := oj.Load(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, jp.MustParseString("$.rows[*].racer").Get(doc))
}

func TestServeLive(t *testing.T) {
	src := newFakeSource(model.RacerSnapshot{ID: "A"}, model.RacerSnapshot{ID: "B"})
	srv := newServer(t, src)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, racers(t, payload))

	// the subscription is registered once the initial message was sent
	src.set(model.RacerSnapshot{ID: "B", LapsCompleted: 1}, model.RacerSnapshot{ID: "A"})
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []any{"B", "A"}, racers(t, payload))

	// closing the source ends the stream, pending frames come first
	src.hub.Close()
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestServeLiveEasesRaceProgress(t *testing.T) {
	src := newFakeSource(model.RacerSnapshot{ID: "A"})
	srv := newServer(t, src)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, raceProgress(t, payload))

	// one completed lap of three
	src.set(model.RacerSnapshot{ID: "A", LapsCompleted: 1})
	var values []float64
	for {
		_, payload, err = conn.ReadMessage()
		require.NoError(t, err)
		v := raceProgress(t, payload)
		require.Len(t, v, 1)
		values = append(values, v[0])
		if v[0] >= 1.0/3-1e-9 {
			break
		}
	}
	require.Greater(t, len(values), 1, "progress is pushed in steps")
	assert.Less(t, values[0], 1.0/3)
	assert.IsIncreasing(t, values)
	assert.InDelta(t, 1.0/3, values[len(values)-1], 1e-12)
}

func raceProgress(t *testing.T, payload []byte) []float64 {
	t.Helper()
	doc, err := oj.Parse(payload)
	require.NoError(t, err)
	var ret []float64
	for _, v := range jp.MustParseString("$.rows[*].raceProgress").Get(doc) {
		switch x := v.(type) {
		case float64:
			ret = append(ret, x)
		case int64:
			ret = append(ret, float64(x))
		}
	}
	return ret
}

// Package live serves the standings of a race session over HTTP and
// websockets.
package live

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/ranking"
	"github.com/mpapenbr/race-progress/pkg/standings"
)

// Source provides the current standings and change notifications
type Source interface {
	Standings() standings.View
	SubscribeRankings() (ch <-chan ranking.RankingsChanged, cancel func())
}

type Handler struct {
	src          Source
	upgrader     websocket.Upgrader
	interval     time.Duration
	smoothing    float64
	writeTimeout time.Duration
	l            *log.Logger
}

type Option func(*Handler)

// WithInterval limits how often updates are pushed to a client
func WithInterval(d time.Duration) Option {
	return func(h *Handler) {
		h.interval = d
	}
}

// WithSmoothing sets how fast the race progress pushed to a client follows
// the actual value. Higher values follow faster.
func WithSmoothing(speed float64) Option {
	return func(h *Handler) {
		h.smoothing = speed
	}
}

// WithCheckOrigin sets the origin check of the websocket upgrade
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = fn
	}
}

func WithLogger(l *log.Logger) Option {
	return func(h *Handler) {
		h.l = l
	}
}

func NewHandler(src Source, opts ...Option) *Handler {
	ret := &Handler{
		src:          src,
		interval:     100 * time.Millisecond,
		smoothing:    8,
		writeTimeout: 5 * time.Second,
		l:            log.Default().Named("live"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Register adds the standings endpoints to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /standings", h.ServeStandings)
	mux.HandleFunc("GET /live", h.ServeLive)
}

// ServeStandings responds with the current standings as JSON document
func (h *Handler) ServeStandings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(standings.JSON(h.src.Standings()))); err != nil {
		h.l.Debug("could not write standings", log.ErrorField(err))
	}
}

// ServeLive upgrades to a websocket connection. The client receives the
// current standings immediately and again whenever the rankings changed.
// The race progress of the rows is eased per connection, updates are
// pushed until it reached the actual values.
//
//nolint:cyclop // select loop
func (h *Handler) ServeLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Warn("websocket upgrade failed", log.ErrorField(err))
		return
	}
	defer conn.Close()
	h.l.Debug("client connected", log.String("remote", r.RemoteAddr))

	changes, cancel := h.src.SubscribeRankings()
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	// the client is not expected to send anything, reading detects the close
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	smooth := standings.NewSmoothing(h.smoothing)
	last := time.Now()
	push := func() (settled bool, err error) {
		now := time.Now()
		v := h.src.Standings()
		settled = smooth.Apply(&v, now.Sub(last).Seconds())
		last = now
		return settled, h.send(conn, v)
	}

	settled, err := push()
	if err != nil {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	pending := false
	for {
		select {
		case <-ctx.Done():
			h.l.Debug("client disconnected", log.String("remote", r.RemoteAddr))
			return
		case _, ok := <-changes:
			if !ok {
				h.closeNormal(conn)
				return
			}
			pending = true
		case <-ticker.C:
			if !pending && settled {
				last = time.Now()
				continue
			}
			pending = false
			if settled, err = push(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, v standings.View) error {
	data := standings.JSON(v)
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		h.l.Debug("could not send standings", log.ErrorField(err))
		return err
	}
	return nil
}

func (h *Handler) closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	if err := conn.WriteControl(websocket.CloseMessage, msg,
		time.Now().Add(h.writeTimeout)); err != nil {
		h.l.Debug("could not send close", log.ErrorField(err))
	}
}

// Package session wires track, trackers, mirrors and the ranking
// aggregator of one race session and drives the authoritative tick and the
// display refresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/lifecycle"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/processing/progress"
	"github.com/mpapenbr/race-progress/pkg/processing/replication"
	"github.com/mpapenbr/race-progress/pkg/ranking"
	"github.com/mpapenbr/race-progress/pkg/standings"
	"github.com/mpapenbr/race-progress/pkg/track"
	"github.com/mpapenbr/race-progress/pkg/transport"
)

var (
	ErrNoAggregator = errors.New("no ranking aggregator configured")
	ErrNoTrack      = errors.New("no track configured")
	ErrRacerExists  = errors.New("racer already part of the session")
)

type (
	Session struct {
		id        string
		track     *track.Track
		clock     lifecycle.Clock
		raceClock *lifecycle.RaceClock
		agg       *ranking.Aggregator
		settings  config.RaceSettings
		transport transport.Transport
		bridge    *replication.Bridge
		tracer    trace.Tracer
		l         *log.Logger

		mu       sync.Mutex
		trackers map[model.RacerID]*progress.Tracker
		mirrors  map[model.RacerID]*replication.Mirror
		driven   map[model.RacerID]Driven
		// registration order of local racers
		order []model.RacerID
	}
	Option func(*Session)

	// stepper is implemented by clocks advanced by the session itself
	stepper interface {
		Advance(dt float64) float64
	}

	// Driven is implemented by motion sources that are moved by the session
	// right before each authoritative tick (see motion.PathFollower)
	Driven interface {
		Step(dt float64)
	}
)

func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

func WithAggregator(agg *ranking.Aggregator) Option {
	return func(s *Session) {
		s.agg = agg
	}
}

// WithClock sets the simulation clock. A lifecycle.ManualClock is advanced
// by one tick interval on each Tick.
func WithClock(c lifecycle.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

func WithSettings(settings config.RaceSettings) Option {
	return func(s *Session) {
		s.settings = settings
	}
}

func WithTransport(t transport.Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = tracer
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		s.l = l
	}
}

// New creates a session for the given track.
// A ranking aggregator must be provided with WithAggregator.
func New(tr *track.Track, opts ...Option) (*Session, error) {
	ret := &Session{
		id:        uuid.NewString(),
		track:     tr,
		settings:  config.DefaultRaceSettings(),
		transport: transport.Discard{},
		l:         log.Default().Named("session"),
		trackers:  make(map[model.RacerID]*progress.Tracker),
		mirrors:   make(map[model.RacerID]*replication.Mirror),
		driven:    make(map[model.RacerID]Driven),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.agg == nil {
		return nil, ErrNoAggregator
	}
	if ret.track == nil {
		return nil, ErrNoTrack
	}
	if err := ret.settings.Validate(); err != nil {
		return nil, err
	}
	if err := ret.track.Validate(ret.settings.ProximityThreshold); err != nil {
		return nil, err
	}
	if ret.clock == nil {
		ret.clock = lifecycle.NewManualClock(0)
	}
	if ret.tracer == nil {
		ret.tracer = otel.Tracer("rpt")
	}
	ret.raceClock = lifecycle.NewRaceClock(ret.clock,
		lifecycle.WithRaceLogger(ret.l.Named("lifecycle")))
	ret.bridge = replication.NewBridge(ret.transport,
		replication.WithOrigin(ret.id),
		replication.WithBridgeLogger(ret.l.Named("replication")))
	ret.l.Info("session created",
		log.String("id", ret.id),
		log.String("track", tr.Name()),
		log.Int("waypoints", tr.Len()),
		log.Int("totalLaps", ret.settings.TotalLaps))
	return ret, nil
}

func (s *Session) ID() string                      { return s.id }
func (s *Session) Track() *track.Track             { return s.track }
func (s *Session) Aggregator() *ranking.Aggregator { return s.agg }
func (s *Session) RaceClock() *lifecycle.RaceClock { return s.raceClock }
func (s *Session) Clock() lifecycle.Clock          { return s.clock }
func (s *Session) Settings() config.RaceSettings   { return s.settings }

// Join adds a racer driven by this process. The session is the authority
// for the racer.
func (s *Session) Join(id model.RacerID, motion progress.Motion) (*progress.Tracker, error) {
	s.mu.Lock()
	if s.knownLocked(id) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRacerExists, id)
	}
	t := progress.NewTracker(id, s.track, motion,
		progress.WithClock(s.clock),
		progress.WithListener(s.agg),
		progress.WithSettings(s.settings),
		progress.WithLogger(s.l.Named("progress")))
	s.trackers[id] = t
	if d, ok := motion.(Driven); ok {
		s.driven[id] = d
	}
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.agg.Register(t)
	s.l.Info("racer joined", log.String("racer", string(id)))
	return t, nil
}

// AddReplica adds a racer owned by a remote authority.
// Adding a known replica returns the existing mirror.
func (s *Session) AddReplica(id model.RacerID) (*replication.Mirror, error) {
	s.mu.Lock()
	if m, ok := s.mirrors[id]; ok {
		s.mu.Unlock()
		return m, nil
	}
	if _, ok := s.trackers[id]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRacerExists, id)
	}
	m := replication.NewMirror(id,
		replication.WithMirrorListener(s.agg),
		replication.WithEpsilon(s.settings.ReplicaChangeEpsilon),
		replication.WithMirrorLogger(s.l.Named("replication")))
	s.mirrors[id] = m
	s.mu.Unlock()

	s.agg.Register(m)
	s.l.Info("replica added", log.String("racer", string(id)))
	return m, nil
}

// Leave removes a local or replicated racer. Unknown racers are ignored.
// Leaving local racers is announced to the replicas.
func (s *Session) Leave(ctx context.Context, id model.RacerID) error {
	s.mu.Lock()
	_, local := s.trackers[id]
	_, replica := s.mirrors[id]
	delete(s.trackers, id)
	delete(s.mirrors, id)
	delete(s.driven, id)
	s.order = slices.DeleteFunc(s.order, func(x model.RacerID) bool { return x == id })
	s.mu.Unlock()

	if !local && !replica {
		return nil
	}
	s.agg.Unregister(id)
	s.l.Info("racer left", log.String("racer", string(id)))
	if local {
		return s.bridge.Leave(ctx, id)
	}
	return nil
}

func (s *Session) Tracker(id model.RacerID) (*progress.Tracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[id]
	return t, ok
}

func (s *Session) Mirror(id model.RacerID) (*replication.Mirror, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[id]
	return m, ok
}

// LocalRacers returns the ids of the racers driven by this process in
// join order
func (s *Session) LocalRacers() []model.RacerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Standings returns the presentation model of the current race state
func (s *Session) Standings() standings.View {
	return standings.Build(s.agg, s.settings.TotalLaps, s.clock.Now(),
		standings.WithTrack(s.track.Name()),
		standings.WithRace(s.raceClock.Active(), s.raceClock.Elapsed()))
}

// SubscribeRankings delivers a notification whenever the order or the
// progress of the racers changed
func (s *Session) SubscribeRankings() (ch <-chan ranking.RankingsChanged, cancel func()) {
	return s.agg.SubscribeRankings()
}

// Start starts the race. The current lap of every local racer starts now.
func (s *Session) Start() {
	now := s.clock.Now()
	for _, t := range s.localTrackers() {
		t.StartLap(now)
	}
	s.raceClock.Start()
}

// Tick runs one authoritative simulation step for all local racers that
// have not finished yet and publishes changed states.
func (s *Session) Tick(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "session.tick")
	defer span.End()

	dt := s.settings.TickInterval().Seconds()
	if st, ok := s.clock.(stepper); ok {
		st.Advance(dt)
	}
	trackers := s.localTrackers()
	active := lo.Filter(trackers, func(t *progress.Tracker, _ int) bool {
		return !ranking.HasFinished(t, s.settings.TotalLaps)
	})
	signaled := 0
	for _, t := range active {
		if d := s.drivenMotion(t.ID()); d != nil {
			d.Step(dt)
		}
		if t.Advance() {
			signaled++
		}
		s.publish(ctx, t)
	}
	span.SetAttributes(
		attribute.Int("racers", len(trackers)),
		attribute.Int("active", len(active)),
		attribute.Int("signaled", signaled))
	s.checkFinished()
}

// Resync queues the full state of every local racer, finished racers
// included. Replicas that missed updates converge with the next resync.
func (s *Session) Resync(ctx context.Context) int {
	s.bridge.Resync()
	return lo.CountBy(s.localTrackers(), func(t *progress.Tracker) bool {
		return s.publish(ctx, t)
	})
}

// LeaveAll removes all local racers and announces it to the replicas
func (s *Session) LeaveAll(ctx context.Context) error {
	var errs []error
	for _, id := range s.LocalRacers() {
		if err := s.Leave(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) publish(ctx context.Context, t *progress.Tracker) bool {
	sent, err := s.bridge.Publish(ctx, t)
	switch {
	case errors.Is(err, replication.ErrQueueFull):
		// sent again with the next tick or resync
		s.l.Debug("publish queue full", log.String("racer", string(t.ID())))
	case err != nil:
		s.l.Warn("could not publish racer state",
			log.String("racer", string(t.ID())), log.ErrorField(err))
	}
	return sent
}

// Refresh runs the change detection of all replicated racers.
// Returns the number of racers that signaled a change.
func (s *Session) Refresh() int {
	s.mu.Lock()
	mirrors := lo.Values(s.mirrors)
	s.mu.Unlock()
	n := lo.CountBy(mirrors, func(m *replication.Mirror) bool {
		return m.Refresh()
	})
	s.checkFinished()
	return n
}

// HandleUpdate applies an update received from the transport.
// Updates for unknown racers create a mirror, updates originating from
// this session or targeting a local racer are ignored.
func (s *Session) HandleUpdate(ctx context.Context, u transport.Update) {
	if u.Origin == s.id {
		return
	}
	id := u.Snapshot.ID
	if _, local := s.Tracker(id); local {
		s.l.Debug("ignoring update for local racer",
			log.String("racer", string(id)), log.String("origin", u.Origin))
		return
	}
	switch u.Kind {
	case transport.KindState:
		m, err := s.AddReplica(id)
		if err != nil {
			s.l.Warn("could not add replica", log.ErrorField(err))
			return
		}
		m.Apply(u.Snapshot)
	case transport.KindLeave:
		if err := s.Leave(ctx, id); err != nil {
			s.l.Warn("could not remove replica", log.ErrorField(err))
		}
	default:
		s.l.Debug("ignoring update", log.String("kind", u.Kind.String()))
	}
}

// Run drives tick and refresh at their configured rates and applies
// remote updates until ctx is done.
//
//nolint:cyclop // select loop
func (s *Session) Run(ctx context.Context) error {
	updates, cancel, err := s.transport.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer cancel()

	tick := time.NewTicker(s.settings.TickInterval())
	defer tick.Stop()
	refresh := time.NewTicker(s.settings.RefreshInterval())
	defer refresh.Stop()
	resync := time.NewTicker(s.settings.ResyncInterval)
	defer resync.Stop()

	if !s.raceClock.Active() {
		s.Start()
	}
	s.l.Info("session running",
		log.String("id", s.id),
		log.Duration("tick", s.settings.TickInterval()),
		log.Duration("refresh", s.settings.RefreshInterval()),
		log.Duration("resync", s.settings.ResyncInterval))
	for {
		select {
		case <-ctx.Done():
			if s.raceClock.Active() {
				s.raceClock.End()
			}
			return nil
		case <-tick.C:
			s.Tick(ctx)
		case <-refresh.C:
			s.Refresh()
		case <-resync.C:
			s.Resync(ctx)
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.HandleUpdate(ctx, u)
		}
	}
}

// Close ends the race, sends the queued updates and releases the
// notification channels
func (s *Session) Close() error {
	s.raceClock.Close()
	s.agg.Close()
	s.bridge.Close()
	return s.transport.Close()
}

func (s *Session) localTrackers() []*progress.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.FilterMap(s.order, func(id model.RacerID, _ int) (*progress.Tracker, bool) {
		t, ok := s.trackers[id]
		return t, ok
	})
}

func (s *Session) drivenMotion(id model.RacerID) Driven {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driven[id]
}

// checkFinished ends the race once every registered racer completed it
func (s *Session) checkFinished() {
	if !s.raceClock.Active() {
		return
	}
	entries := s.agg.Sorted()
	if len(entries) == 0 {
		return
	}
	if lo.EveryBy(entries, func(e ranking.Entry) bool {
		return e.Snapshot.LapsCompleted >= s.settings.TotalLaps
	}) {
		s.raceClock.End()
	}
}

// must be called with mu held
func (s *Session) knownLocked(id model.RacerID) bool {
	_, t := s.trackers[id]
	_, m := s.mirrors[id]
	return t || m
}

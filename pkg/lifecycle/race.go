package lifecycle

import (
	"sync"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/utils/notify"
)

type Event int

const (
	RaceStarted Event = iota + 1
	RaceEnded
)

func (e Event) String() string {
	switch e {
	case RaceStarted:
		return "started"
	case RaceEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// RaceClock is the local start/end bookkeeping of a race session.
// It is not replicated, each observer derives its own elapsed time.
type RaceClock struct {
	mu        sync.Mutex
	clock     Clock
	startTime float64
	active    bool
	events    *notify.Hub[Event]
	l         *log.Logger
}

type RaceClockOption func(*RaceClock)

func WithRaceLogger(l *log.Logger) RaceClockOption {
	return func(r *RaceClock) {
		r.l = l
	}
}

func NewRaceClock(clock Clock, opts ...RaceClockOption) *RaceClock {
	ret := &RaceClock{
		clock:  clock,
		events: notify.NewHub[Event](),
		l:      log.Default().Named("lifecycle"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (r *RaceClock) Start() {
	r.mu.Lock()
	r.startTime = r.clock.Now()
	r.active = true
	start := r.startTime
	r.mu.Unlock()
	r.l.Info("race started", log.Float64("startTime", start))
	r.events.Publish(RaceStarted)
}

func (r *RaceClock) End() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
	r.l.Info("race ended")
	r.events.Publish(RaceEnded)
}

// Elapsed returns the seconds since start while the race is active, 0 otherwise
func (r *RaceClock) Elapsed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return 0
	}
	return r.clock.Now() - r.startTime
}

func (r *RaceClock) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *RaceClock) StartTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startTime
}

// Subscribe delivers RaceStarted and RaceEnded events
func (r *RaceClock) Subscribe() (<-chan Event, func()) {
	return r.events.Subscribe(notify.DefaultBuffer)
}

func (r *RaceClock) Close() {
	r.events.Close()
}

package replication

import (
	"math"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/processing/progress"
)

// Mirror is the replica side copy of a racer owned by a remote authority.
// Apply and Refresh may be called from different goroutines,
// Refresh itself must not be called concurrently.
type Mirror struct {
	id       model.RacerID
	state    *model.RacerState
	listener progress.Listener
	epsilon  float64
	l        *log.Logger

	// local to this observer
	previousProgress float64
	previousLaps     int
}

type MirrorOption func(*Mirror)

func WithMirrorListener(l progress.Listener) MirrorOption {
	return func(m *Mirror) {
		m.listener = l
	}
}

// WithEpsilon sets the change detection threshold used by Refresh
func WithEpsilon(eps float64) MirrorOption {
	return func(m *Mirror) {
		m.epsilon = eps
	}
}

func WithMirrorLogger(l *log.Logger) MirrorOption {
	return func(m *Mirror) {
		m.l = l
	}
}

func NewMirror(id model.RacerID, opts ...MirrorOption) *Mirror {
	ret := &Mirror{
		id:      id,
		state:   model.NewRacerState(id, 0),
		epsilon: config.DefaultRaceSettings().ReplicaChangeEpsilon,
		l:       log.Default().Named("replication"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (m *Mirror) ID() model.RacerID {
	return m.id
}

// IsReplica reports that the state is driven by another process
func (m *Mirror) IsReplica() bool {
	return true
}

func (m *Mirror) Snapshot() model.RacerSnapshot {
	return m.state.Snapshot()
}

// Apply writes a received snapshot.
// Outdated snapshots are rejected. Applying never raises a notification.
func (m *Mirror) Apply(s model.RacerSnapshot) bool {
	if !m.state.Replace(s) {
		m.l.Debug("rejected snapshot",
			log.String("racer", string(m.id)),
			log.Uint64("seq", s.Seq))
		return false
	}
	return true
}

// Refresh compares the replicated progress with the last value seen by
// this observer and signals the listener if it changed.
// Returns true if a signal was raised.
func (m *Mirror) Refresh() bool {
	s := m.state.Snapshot()
	if math.Abs(s.Progress-m.previousProgress) <= m.epsilon &&
		s.LapsCompleted == m.previousLaps {
		return false
	}
	m.previousProgress = s.Progress
	m.previousLaps = s.LapsCompleted
	if m.listener != nil {
		m.listener.ProgressChanged(m.id)
	}
	return true
}

// PreviousProgress is the progress value seen by the last signaling Refresh
func (m *Mirror) PreviousProgress() float64 {
	return m.previousProgress
}

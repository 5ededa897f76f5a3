package progress

import (
	"math"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/lifecycle"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/track"
)

type (
	// Motion is provided by the locomotion collaborator of a racer
	Motion interface {
		Position() model.Vector3
		Forward() model.Vector3
	}
	// Authority decides if this instance may mutate the racer's networked fields
	Authority interface {
		IsAuthorityFor(id model.RacerID) bool
	}
	AuthorityFunc func(id model.RacerID) bool

	// Listener receives "progress changed" signals
	Listener interface {
		ProgressChanged(id model.RacerID)
	}
	ListenerFunc func(id model.RacerID)
)

func (f AuthorityFunc) IsAuthorityFor(id model.RacerID) bool { return f(id) }
func (f ListenerFunc) ProgressChanged(id model.RacerID)      { f(id) }

// Always grants authority for every racer (single process races)
var Always = AuthorityFunc(func(model.RacerID) bool { return true })

// segments shorter than this are treated as having no extent
const degenerateSegment = 1e-9

// maxProgress is the largest value below 1
var maxProgress = math.Nextafter(1, 0)

// Tracker computes the authoritative progress of one racer.
type Tracker struct {
	id        model.RacerID
	track     *track.Track
	motion    Motion
	authority Authority
	clock     lifecycle.Clock
	listener  Listener
	settings  config.RaceSettings
	l         *log.Logger

	state *model.RacerState
	// local to the authority, not replicated
	previousProgress float64
	previousLaps     int
	lastPosition     model.Vector3
	distanceToNext   float64
}

type Option func(*Tracker)

func WithAuthority(a Authority) Option {
	return func(t *Tracker) {
		t.authority = a
	}
}

func WithClock(c lifecycle.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

func WithListener(l Listener) Option {
	return func(t *Tracker) {
		t.listener = l
	}
}

func WithSettings(s config.RaceSettings) Option {
	return func(t *Tracker) {
		t.settings = s
	}
}

func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) {
		t.l = l
	}
}

//nolint:whitespace // can't make both editor and linter happy
func NewTracker(
	id model.RacerID,
	tr *track.Track,
	motion Motion,
	opts ...Option,
) *Tracker {
	ret := &Tracker{
		id:        id,
		track:     tr,
		motion:    motion,
		authority: Always,
		settings:  config.DefaultRaceSettings(),
		l:         log.Default().Named("progress"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.clock == nil {
		ret.clock = lifecycle.NewWallClock()
	}
	ret.state = model.NewRacerState(id, ret.clock.Now())
	ret.lastPosition = motion.Position()
	ret.distanceToNext = ret.lastPosition.Distance(tr.At(1).Position)
	return ret
}

func (t *Tracker) ID() model.RacerID {
	return t.id
}

func (t *Tracker) Snapshot() model.RacerSnapshot {
	return t.state.Snapshot()
}

// DistanceToNext is the distance to the next waypoint as of the last tick
func (t *Tracker) DistanceToNext() float64 {
	return t.distanceToNext
}

// Advance runs one authoritative tick for the racer.
// It is a no-op if this instance is not the authority for the racer.
// Returns true if a "progress changed" signal was raised.
//
//nolint:funlen // single state machine step
func (t *Tracker) Advance() bool {
	if !t.authority.IsAuthorityFor(t.id) {
		t.l.Debug("not authority, skipping advance", log.String("racer", string(t.id)))
		return false
	}
	now := t.clock.Now()
	pos := t.motion.Position()
	cur := t.state.Snapshot()
	upd := cur

	idx := cur.WaypointIndex
	next := t.track.Next(idx)
	dist := pos.Distance(t.track.At(next).Position)
	lapCompleted := false
	if dist < t.settings.ProximityThreshold {
		idx = next
		next = t.track.Next(idx)
		dist = pos.Distance(t.track.At(next).Position)
		lapCompleted = next == 0
	}
	t.distanceToNext = dist
	upd.WaypointIndex = idx

	if lapCompleted {
		lapTime := now - cur.CurrentLapStartTime
		upd.LastLapTime = lapTime
		if lapTime < cur.BestLapTime {
			upd.BestLapTime = lapTime
		}
		upd.TotalRaceTime = cur.TotalRaceTime + lapTime
		upd.CurrentLapStartTime = now
		upd.LapsCompleted = cur.LapsCompleted + 1
	}

	upd.Progress = t.computeProgress(idx, pos)
	t.lastPosition = pos

	if upd != cur {
		upd = t.state.Set(upd)
	}
	if lapCompleted {
		t.l.Info("lap completed",
			log.String("racer", string(t.id)),
			log.Int("lap", upd.LapsCompleted),
			log.Float64("lapTime", upd.LastLapTime),
			log.Float64("best", upd.BestLapTime),
			log.Float64("total", upd.TotalRaceTime))
	}

	if math.Abs(upd.Progress-t.previousProgress) > t.settings.ChangeEpsilon ||
		upd.LapsCompleted != t.previousLaps {
		t.previousProgress = upd.Progress
		t.previousLaps = upd.LapsCompleted
		if t.listener != nil {
			t.listener.ProgressChanged(t.id)
		}
		return true
	}
	return false
}

// computeProgress projects pos onto the segment starting at waypoint idx
// and adds the forward movement bonus
func (t *Tracker) computeProgress(idx int, pos model.Vector3) float64 {
	n := float64(t.track.Len())
	prev := t.track.At(idx).Position
	seg := t.track.At(idx + 1).Position.Sub(prev)

	segProgress := 0.0
	if segLen := seg.Length(); segLen > degenerateSegment {
		segProgress = clamp01(pos.Sub(prev).Dot(seg.Normalize()) / segLen)
	}

	moved := pos.Sub(t.lastPosition)
	bonus := max(0, moved.Dot(t.motion.Forward().Normalize())*t.settings.MovementBonusFactor)
	// capped per tick and at the end of the current segment, the bonus
	// never carries progress past the next waypoint
	bonus = min(bonus, t.settings.MaxBonusFraction/n, (1-segProgress)/n)

	return clampProgress(float64(idx)/n + segProgress/n + bonus)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

// clampProgress keeps v in [0,1)
func clampProgress(v float64) float64 {
	return min(max(v, 0), maxProgress)
}

// StartLap sets the start time of the current lap.
// Used when the race starts after the racer joined.
func (t *Tracker) StartLap(now float64) {
	if !t.authority.IsAuthorityFor(t.id) {
		return
	}
	t.state.Update(func(s *model.RacerSnapshot) {
		s.CurrentLapStartTime = now
	})
}

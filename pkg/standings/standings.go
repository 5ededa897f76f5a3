// Package standings builds the presentation model of a race from the
// ranking aggregator.
package standings

import (
	"github.com/aarondl/opt/omit"
	"github.com/samber/lo"

	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/ranking"
)

type (
	Row struct {
		Position      int
		Racer         model.RacerID
		Lap           int // lap the racer is currently in, capped at the total
		LapsCompleted int
		Progress      float64
		RaceProgress  float64           // share of the race distance covered, 0..1
		CurrentLap    omit.Val[float64] // running time of the current lap
		LastLap       omit.Val[float64]
		BestLap       omit.Val[float64]
		TotalTime     float64
		Finished      bool
	}

	View struct {
		Track     string
		TotalLaps int
		Active    bool
		Elapsed   float64
		Rows      []Row
	}

	// Source provides the data for a view
	Source interface {
		Sorted() []ranking.Entry
	}

	// replica is implemented by racers whose state is driven by another
	// process. Their lap start times refer to the clock of that process.
	replica interface {
		IsReplica() bool
	}

	Option func(*View)
)

func WithTrack(name string) Option {
	return func(v *View) {
		v.Track = name
	}
}

// WithRace sets race clock related fields
func WithRace(active bool, elapsed float64) Option {
	return func(v *View) {
		v.Active = active
		v.Elapsed = elapsed
	}
}

// Build creates the view of the current standings.
// now is the simulation time used for the running lap time of local racers.
// Replicated racers get no running lap time.
func Build(src Source, totalLaps int, now float64, opts ...Option) View {
	ret := View{TotalLaps: totalLaps}
	for _, opt := range opts {
		opt(&ret)
	}
	ret.Rows = lo.Map(src.Sorted(), func(e ranking.Entry, i int) Row {
		return newRow(i+1, e, totalLaps, now)
	})
	return ret
}

func newRow(pos int, e ranking.Entry, totalLaps int, now float64) Row {
	s := e.Snapshot
	finished := s.LapsCompleted >= totalLaps
	r := Row{
		Position:      pos,
		Racer:         s.ID,
		Lap:           min(s.LapsCompleted+1, totalLaps),
		LapsCompleted: s.LapsCompleted,
		Progress:      s.Progress,
		RaceProgress:  raceProgress(s, totalLaps),
		TotalTime:     s.TotalRaceTime,
		Finished:      finished,
	}
	if !finished && !isReplica(e.Racer) {
		r.CurrentLap = omit.From(max(0, now-s.CurrentLapStartTime))
	}
	if s.LapsCompleted > 0 {
		r.LastLap = omit.From(s.LastLapTime)
	}
	if s.HasBestLap() {
		r.BestLap = omit.From(s.BestLapTime)
	}
	return r
}

func raceProgress(s model.RacerSnapshot, totalLaps int) float64 {
	return min(1, max(0, (float64(s.LapsCompleted)+s.Progress)/float64(totalLaps)))
}

func isReplica(r ranking.Racer) bool {
	x, ok := r.(replica)
	return ok && x.IsReplica()
}

// Row returns the row of the given racer
func (v View) Row(id model.RacerID) (Row, bool) {
	return lo.Find(v.Rows, func(r Row) bool { return r.Racer == id })
}

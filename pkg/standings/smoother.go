package standings

import (
	"maps"
	"math"

	"github.com/mpapenbr/race-progress/pkg/model"
)

// Smoother eases a displayed progress value towards its target
type Smoother struct {
	speed  float64
	snap   float64
	value  float64
	target float64
}

func NewSmoother(speed float64) *Smoother {
	return &Smoother{speed: speed, snap: 0.001}
}

func (s *Smoother) SetTarget(target float64) {
	s.target = target
}

// Step moves the value towards the target for a frame of dt seconds.
// Values closer than the snap distance jump to the target.
func (s *Smoother) Step(dt float64) float64 {
	s.value += (s.target - s.value) * min(1, dt*s.speed)
	if math.Abs(s.target-s.value) < s.snap {
		s.value = s.target
	}
	return s.value
}

func (s *Smoother) Value() float64 {
	return s.value
}

// Smoothing eases the race progress of the rows of consecutive views.
// Each racer has a smoother of its own, racers appearing for the first
// time start at their target.
type Smoothing struct {
	speed  float64
	racers map[model.RacerID]*Smoother
}

func NewSmoothing(speed float64) *Smoothing {
	return &Smoothing{speed: speed, racers: make(map[model.RacerID]*Smoother)}
}

// Apply replaces the race progress of the rows of v by the value eased
// for a frame of dt seconds. Returns true if all rows reached their target.
func (s *Smoothing) Apply(v *View, dt float64) bool {
	settled := true
	seen := make(map[model.RacerID]bool, len(v.Rows))
	for i := range v.Rows {
		r := &v.Rows[i]
		seen[r.Racer] = true
		sm, ok := s.racers[r.Racer]
		if !ok {
			sm = NewSmoother(s.speed)
			sm.value = r.RaceProgress
			s.racers[r.Racer] = sm
		}
		sm.SetTarget(r.RaceProgress)
		r.RaceProgress = sm.Step(dt)
		settled = settled && sm.Value() == sm.target
	}
	maps.DeleteFunc(s.racers, func(id model.RacerID, _ *Smoother) bool {
		return !seen[id]
	})
	return settled
}

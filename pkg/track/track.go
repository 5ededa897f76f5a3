package track

import (
	"errors"
	"fmt"
	"math"

	"github.com/mpapenbr/race-progress/pkg/model"
)

// MinWaypoints is the minimum number of waypoints of a valid circuit
const MinWaypoints = 3

var (
	ErrTooFewWaypoints  = errors.New("track needs at least 3 waypoints")
	ErrSpacingTooSmall  = errors.New("waypoint spacing below proximity threshold")
	ErrTrackNotFound    = errors.New("track not found")
	ErrInvalidTrackFile = errors.New("invalid track file")
)

// Track is the ordered, cyclic sequence of waypoints of a circuit.
// It is immutable once created.
type Track struct {
	name      string
	waypoints []model.Waypoint
}

func New(name string, positions []model.Vector3) (*Track, error) {
	if len(positions) < MinWaypoints {
		return nil, fmt.Errorf("%w: %q has %d", ErrTooFewWaypoints, name, len(positions))
	}
	wps := make([]model.Waypoint, len(positions))
	for i, p := range positions {
		wps[i] = model.Waypoint{Index: i, Position: p}
	}
	return &Track{name: name, waypoints: wps}, nil
}

func (t *Track) Name() string {
	return t.name
}

func (t *Track) Len() int {
	return len(t.waypoints)
}

// At returns the waypoint at index i, wrapping around in both directions
func (t *Track) At(i int) model.Waypoint {
	n := len(t.waypoints)
	return t.waypoints[((i%n)+n)%n]
}

// Next returns the index following i
func (t *Track) Next(i int) int {
	return (i + 1) % len(t.waypoints)
}

// Waypoints returns a copy of the waypoints
func (t *Track) Waypoints() []model.Waypoint {
	ret := make([]model.Waypoint, len(t.waypoints))
	copy(ret, t.waypoints)
	return ret
}

// MinSpacing returns the shortest distance between consecutive waypoints
// (including the closing segment)
func (t *Track) MinSpacing() float64 {
	ret := math.Inf(1)
	for i := range t.waypoints {
		d := t.waypoints[i].Position.Distance(t.At(i + 1).Position)
		ret = min(ret, d)
	}
	return ret
}

// Length returns the length of one lap along the waypoints
func (t *Track) Length() float64 {
	ret := 0.0
	for i := range t.waypoints {
		ret += t.waypoints[i].Position.Distance(t.At(i + 1).Position)
	}
	return ret
}

// Validate checks the track against the proximity threshold used for
// waypoint detection. Waypoints closer than the threshold would be hit
// together with their predecessor.
func (t *Track) Validate(proximityThreshold float64) error {
	if s := t.MinSpacing(); s <= proximityThreshold {
		return fmt.Errorf("%w: track %q min spacing %.2f, threshold %.2f",
			ErrSpacingTooSmall, t.name, s, proximityThreshold)
	}
	return nil
}

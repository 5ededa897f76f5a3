// Package trackdata provides tracks used by tests in several packages
package trackdata

import (
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/track"
)

// SquarePositions are 4 waypoints, 50 units apart, driven counter clockwise
// when looking down the Y axis: (0,0) -> (50,0) -> (50,50) -> (0,50)
func SquarePositions() []model.Vector3 {
	return []model.Vector3{
		model.Vec(0, 0, 0),
		model.Vec(50, 0, 0),
		model.Vec(50, 0, 50),
		model.Vec(0, 0, 50),
	}
}

func Square() *track.Track {
	t, err := track.New("square", SquarePositions())
	if err != nil {
		panic(err)
	}
	return t
}

// Oval is a longer track with 8 waypoints
func Oval() *track.Track {
	t, err := track.New("oval", []model.Vector3{
		model.Vec(0, 0, 0),
		model.Vec(100, 0, 0),
		model.Vec(200, 0, 0),
		model.Vec(250, 0, 50),
		model.Vec(200, 0, 100),
		model.Vec(100, 0, 100),
		model.Vec(0, 0, 100),
		model.Vec(-50, 0, 50),
	})
	if err != nil {
		panic(err)
	}
	return t
}

const SquareYAML = `name: square
waypoints:
  - {x: 0, y: 0, z: 0}
  - {x: 50, y: 0, z: 0}
  - {x: 50, y: 0, z: 50}
  - {x: 0, z: 50}
`

package motion

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/testsupport/trackdata"
)

func near(t *testing.T, want, got model.Vector3) {
	t.Helper()
	assert.Assert(t, want.Distance(got) < 1e-9, "want %v, got %v", want, got)
}

func TestStep(t *testing.T) {
	p := NewPathFollower(trackdata.Square(), 10)
	near(t, model.Vec(0, 0, 0), p.Position())
	near(t, model.Vec(1, 0, 0), p.Forward())

	p.Step(2)
	near(t, model.Vec(20, 0, 0), p.Position())

	// passes waypoint 1 and turns
	p.Step(4)
	near(t, model.Vec(50, 0, 10), p.Position())
	near(t, model.Vec(0, 0, 1), p.Forward())

	// a full lap brings it back to the same spot
	p.Step(20)
	near(t, model.Vec(50, 0, 10), p.Position())
}

func TestOffset(t *testing.T) {
	p := NewPathFollower(trackdata.Square(), 10, WithOffset(model.Vec(0, 1, 0)))
	near(t, model.Vec(0, 1, 0), p.Position())
	p.Step(1)
	near(t, model.Vec(10, 1, 0), p.Position())
}

func TestSpeed(t *testing.T) {
	p := NewPathFollower(trackdata.Square(), 10)
	p.SetSpeed(0)
	p.Step(5)
	near(t, model.Vec(0, 0, 0), p.Position())
	assert.Equal(t, 0.0, p.Speed())
}

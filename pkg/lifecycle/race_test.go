package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRaceClock(t *testing.T) {
	clock := NewManualClock(100)
	rc := NewRaceClock(clock)
	events, cancel := rc.Subscribe()
	defer cancel()

	assert.Equal(t, 0.0, rc.Elapsed(), "not started")
	assert.False(t, rc.Active())

	rc.Start()
	clock.Advance(12.5)
	assert.True(t, rc.Active())
	assert.Equal(t, 100.0, rc.StartTime())
	assert.Equal(t, 12.5, rc.Elapsed())

	rc.End()
	assert.Equal(t, 0.0, rc.Elapsed(), "ended")

	assert.Equal(t, RaceStarted, <-events)
	assert.Equal(t, RaceEnded, <-events)
	assert.Equal(t, "ended", RaceEnded.String())
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(0)
	c.Advance(0.5)
	c.Advance(0.25)
	assert.Equal(t, 0.75, c.Now())
	c.Set(3)
	assert.Equal(t, 3.0, c.Now())
}

func TestWallClock(t *testing.T) {
	c := NewWallClock()
	assert.GreaterOrEqual(t, c.Now(), 0.0)
}

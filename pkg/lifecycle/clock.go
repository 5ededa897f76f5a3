package lifecycle

import (
	"sync"
	"time"
)

// Clock provides the current time in seconds
type Clock interface {
	Now() float64
}

// ManualClock is the simulation time of the authority. It only moves when
// advanced, typically by one fixed step per authoritative tick.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

func NewManualClock(start float64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(dt float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += dt
	return c.now
}

func (c *ManualClock) Set(now float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// WallClock reports seconds elapsed since its creation
type WallClock struct {
	origin time.Time
}

func NewWallClock() *WallClock {
	return &WallClock{origin: time.Now()}
}

func (c *WallClock) Now() float64 {
	return time.Since(c.origin).Seconds()
}

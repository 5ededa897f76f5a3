// Package motion provides scripted motion sources for simulations and demos.
package motion

import (
	"sync"

	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/track"
)

// PathFollower moves at constant speed along the waypoints of a track,
// starting at waypoint 0.
type PathFollower struct {
	mu     sync.Mutex
	points []model.Vector3
	speed  float64
	target int
	pos    model.Vector3
	fwd    model.Vector3
}

type Option func(*PathFollower)

// WithOffset shifts the driven line, used to keep simulated racers apart
func WithOffset(offset model.Vector3) Option {
	return func(p *PathFollower) {
		for i := range p.points {
			p.points[i] = p.points[i].Add(offset)
		}
	}
}

// NewPathFollower creates a follower moving with speed units per second
func NewPathFollower(tr *track.Track, speed float64, opts ...Option) *PathFollower {
	wps := tr.Waypoints()
	ret := &PathFollower{
		points: make([]model.Vector3, len(wps)),
		speed:  speed,
		target: 1,
	}
	for i := range wps {
		ret.points[i] = wps[i].Position
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.pos = ret.points[0]
	ret.fwd = ret.points[1].Sub(ret.points[0]).Normalize()
	return ret
}

func (p *PathFollower) Position() model.Vector3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *PathFollower) Forward() model.Vector3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fwd
}

func (p *PathFollower) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

func (p *PathFollower) SetSpeed(speed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = speed
}

// Step moves the follower by speed*dt along the path, passing as many
// waypoints as the distance allows.
func (p *PathFollower) Step(dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.speed * dt
	// bounded by the number of points to cope with degenerate paths
	for range 2 * len(p.points) {
		if remaining <= 0 {
			return
		}
		target := p.points[p.target]
		toTarget := target.Sub(p.pos)
		d := toTarget.Length()
		if d > remaining {
			p.fwd = toTarget.Normalize()
			p.pos = p.pos.Add(p.fwd.Scale(remaining))
			return
		}
		p.pos = target
		remaining -= d
		p.target = (p.target + 1) % len(p.points)
		if dir := p.points[p.target].Sub(p.pos); dir.Length() > 0 {
			p.fwd = dir.Normalize()
		}
	}
}

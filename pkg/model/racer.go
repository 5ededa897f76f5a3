package model

import (
	"math"
	"sync"
)

type RacerID string

// NoLapTime is the BestLapTime value of a racer that has not completed a lap yet
var NoLapTime = math.Inf(1)

// RacerSnapshot is a consistent copy of the networked fields of a racer.
type RacerSnapshot struct {
	ID                  RacerID
	Seq                 uint64 // incremented by the authority on each write
	WaypointIndex       int
	Progress            float64
	LapsCompleted       int
	CurrentLapStartTime float64
	LastLapTime         float64
	BestLapTime         float64
	TotalRaceTime       float64
}

func (s RacerSnapshot) HasBestLap() bool {
	return !math.IsInf(s.BestLapTime, 1)
}

// RacerState holds the networked fields of a racer.
// Only the authority writes them (via Update), replicas receive them via Replace.
type RacerState struct {
	mu   sync.RWMutex
	data RacerSnapshot
}

func NewRacerState(id RacerID, lapStart float64) *RacerState {
	return &RacerState{data: RacerSnapshot{
		ID:                  id,
		CurrentLapStartTime: lapStart,
		BestLapTime:         NoLapTime,
	}}
}

func (r *RacerState) Snapshot() RacerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

// Update applies fn to the fields and bumps the sequence number.
// Returns the resulting snapshot.
func (r *RacerState) Update(fn func(s *RacerSnapshot)) RacerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.data.ID
	fn(&r.data)
	r.data.ID = id
	r.data.Seq++
	return r.data
}

// Set copies all fields except ID and Seq from s and bumps the sequence number
func (r *RacerState) Set(s RacerSnapshot) RacerSnapshot {
	return r.Update(func(d *RacerSnapshot) {
		seq := d.Seq
		*d = s
		d.Seq = seq
	})
}

// Replace overwrites all fields with the received snapshot if it is newer
// than the current one. Returns false for outdated or duplicate writes.
func (r *RacerState) Replace(s RacerSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID != r.data.ID || (r.data.Seq != 0 && s.Seq <= r.data.Seq) {
		return false
	}
	r.data = s
	return true
}

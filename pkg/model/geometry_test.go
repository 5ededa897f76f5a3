package model

import (
	"math"
	"testing"
)

func TestVector3(t *testing.T) {
	a := Vec(3, 0, 4)
	if got := a.Length(); got != 5 {
		t.Errorf("Length() = %v, want 5", got)
	}
	if got := a.Normalize(); math.Abs(got.Length()-1) > 1e-12 {
		t.Errorf("Normalize().Length() = %v, want 1", got.Length())
	}
	if got := (Vector3{}).Normalize(); got != (Vector3{}) {
		t.Errorf("Normalize() of zero vector = %v", got)
	}
	if got := a.Distance(Vec(3, 0, 0)); got != 4 {
		t.Errorf("Distance() = %v, want 4", got)
	}
	if got := Vec(1, 2, 3).Dot(Vec(4, 5, 6)); got != 32 {
		t.Errorf("Dot() = %v, want 32", got)
	}
	if got := Vec(0, 0, 0).Lerp(Vec(10, 0, 0), 0.25); got != Vec(2.5, 0, 0) {
		t.Errorf("Lerp() = %v", got)
	}
}

func TestRacerState_Replace(t *testing.T) {
	r := NewRacerState("a", 0)
	if !r.Replace(RacerSnapshot{ID: "a", Seq: 2, Progress: 0.2}) {
		t.Fatal("first write rejected")
	}
	if r.Replace(RacerSnapshot{ID: "a", Seq: 1, Progress: 0.1}) {
		t.Error("outdated write accepted")
	}
	if r.Replace(RacerSnapshot{ID: "b", Seq: 3}) {
		t.Error("write for other racer accepted")
	}
	if got := r.Snapshot().Progress; got != 0.2 {
		t.Errorf("Progress = %v, want 0.2", got)
	}
}

func TestRacerState_Update(t *testing.T) {
	r := NewRacerState("a", 1.5)
	s := r.Update(func(s *RacerSnapshot) {
		s.ID = "other"
		s.Progress = 0.3
	})
	if s.ID != "a" || s.Seq != 1 || s.Progress != 0.3 {
		t.Errorf("Update() = %+v", s)
	}
	if s.HasBestLap() {
		t.Error("HasBestLap() = true before first lap")
	}
}

package config

import (
	"errors"
	"testing"
	"time"
)

func TestRaceSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(s *RaceSettings)
		wantErr bool
	}{
		{name: "defaults", modify: func(s *RaceSettings) {}},
		{
			name:    "zero threshold",
			modify:  func(s *RaceSettings) { s.ProximityThreshold = 0 },
			wantErr: true,
		},
		{
			name:    "bonus fraction reaches a full segment",
			modify:  func(s *RaceSettings) { s.MaxBonusFraction = 1 },
			wantErr: true,
		},
		{
			name:    "replica epsilon larger than authority epsilon",
			modify:  func(s *RaceSettings) { s.ReplicaChangeEpsilon = 1e-3 },
			wantErr: true,
		},
		{
			name:   "replica epsilon smaller than authority epsilon",
			modify: func(s *RaceSettings) { s.ReplicaChangeEpsilon = 1e-5 },
		},
		{
			name:    "no resync",
			modify:  func(s *RaceSettings) { s.ResyncInterval = 0 },
			wantErr: true,
		},
		{
			name:    "no laps",
			modify:  func(s *RaceSettings) { s.TotalLaps = 0 },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultRaceSettings()
			tt.modify(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSettings) {
				t.Errorf("Validate() error = %v, want ErrInvalidSettings", err)
			}
		})
	}
}

func TestRaceSettings_Intervals(t *testing.T) {
	s := DefaultRaceSettings()
	s.TickRate = 50
	s.RefreshRate = 20
	if got := s.TickInterval(); got != 20*time.Millisecond {
		t.Errorf("TickInterval() = %v", got)
	}
	if got := s.RefreshInterval(); got != 50*time.Millisecond {
		t.Errorf("RefreshInterval() = %v", got)
	}
}

package util

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/track"
)

// AddRaceFlags adds the flags for the race settings to cmd
func AddRaceFlags(cmd *cobra.Command) {
	d := config.DefaultRaceSettings()
	cmd.Flags().IntVar(&config.Race.TotalLaps,
		"laps",
		d.TotalLaps,
		"number of laps of the race")
	cmd.Flags().IntVar(&config.Race.TickRate,
		"tick-rate",
		d.TickRate,
		"authoritative simulation steps per second")
	cmd.Flags().IntVar(&config.Race.RefreshRate,
		"refresh-rate",
		d.RefreshRate,
		"change detection runs for replicated racers per second")
	cmd.Flags().Float64Var(&config.Race.ProximityThreshold,
		"proximity-threshold",
		d.ProximityThreshold,
		"distance at which a waypoint counts as passed")
	cmd.Flags().Float64Var(&config.Race.MovementBonusFactor,
		"bonus-factor",
		d.MovementBonusFactor,
		"factor applied to the forward movement between two samples")
	cmd.Flags().Float64Var(&config.Race.MaxBonusFraction,
		"max-bonus-fraction",
		d.MaxBonusFraction,
		"upper bound of the movement bonus as fraction of a segment")
	cmd.Flags().Float64Var(&config.Race.ChangeEpsilon,
		"change-epsilon",
		d.ChangeEpsilon,
		"minimum progress change reported by the authority")
	cmd.Flags().Float64Var(&config.Race.ReplicaChangeEpsilon,
		"replica-change-epsilon",
		d.ReplicaChangeEpsilon,
		"minimum progress change reported by replicas")
	cmd.Flags().DurationVar(&config.Race.ResyncInterval,
		"resync-interval",
		d.ResyncInterval,
		"interval for sending the full state of all local racers again")
}

// AddTrackFlags adds the flags to select a track from the track directory
func AddTrackFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&config.TrackDir,
		"track-dir",
		"tracks",
		"directory containing the track files")
	cmd.Flags().StringVar(&config.TrackName,
		"track",
		"oval",
		"name of the track (file name without extension)")
}

// LoadTrack resolves the track selected by the track flags
func LoadTrack(ctx context.Context) (*track.Track, error) {
	if config.TrackName == "" {
		return nil, fmt.Errorf("%w: no track name given", track.ErrTrackNotFound)
	}
	return track.NewRegistry(config.TrackDir).Get(ctx, config.TrackName)
}

package track

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/race-progress/pkg/cmd/util"
	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/track"
)

func NewTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "commands regarding track files",
	}
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newListCmd())
	return cmd
}

func newCheckCmd() *cobra.Command {
	threshold := config.DefaultRaceSettings().ProximityThreshold
	cmd := &cobra.Command{
		Use:   "check [file...]",
		Short: "validates track files against the proximity threshold",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := util.SetupLogger(); err != nil {
				return err
			}
			return checkFiles(cmd.OutOrStdout(), args, threshold)
		},
	}
	cmd.Flags().Float64Var(&threshold,
		"proximity-threshold",
		threshold,
		"distance at which a waypoint counts as passed")
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "lists the tracks of the track directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := util.SetupLogger(); err != nil {
				return err
			}
			reg := track.NewRegistry(config.TrackDir)
			names, err := reg.Names()
			if err != nil {
				return err
			}
			var tracks []*track.Track
			for _, name := range names {
				t, err := reg.Get(cmd.Context(), name)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
					continue
				}
				tracks = append(tracks, t)
			}
			renderTracks(cmd.OutOrStdout(), tracks)
			return nil
		},
	}
	util.AddTrackFlags(cmd)
	return cmd
}

// checkFiles reports every file and returns an error if any file is invalid
func checkFiles(w io.Writer, files []string, threshold float64) error {
	failed := 0
	var tracks []*track.Track
	for _, file := range files {
		t, err := track.LoadFile(file)
		if err == nil {
			err = t.Validate(threshold)
		}
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s: %v\n", file, err)
			continue
		}
		tracks = append(tracks, t)
	}
	renderTracks(w, tracks)
	if failed > 0 {
		return fmt.Errorf("%d of %d track files are invalid", failed, len(files))
	}
	return nil
}

func renderTracks(w io.Writer, tracks []*track.Track) {
	if len(tracks) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Name", "Waypoints", "Min spacing", "Length"})
	for _, t := range tracks {
		tw.AppendRow(table.Row{
			t.Name(),
			t.Len(),
			fmt.Sprintf("%.1f", t.MinSpacing()),
			fmt.Sprintf("%.1f", t.Length()),
		})
	}
	tw.Render()
}

package standings

import (
	"bytes"
	"fmt"
	"io"

	"github.com/aarondl/opt/omit"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/ohler55/ojg/oj"

	"github.com/mpapenbr/race-progress/pkg/format"
)

// Render writes the view as table
func Render(w io.Writer, v View) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	if v.Track != "" {
		t.SetTitle(fmt.Sprintf("%s - %d laps", v.Track, v.TotalLaps))
	}
	t.AppendHeader(table.Row{"Pos", "Racer", "Lap", "Progress", "Current", "Last", "Best", "Total"})
	for i := range v.Rows {
		r := &v.Rows[i]
		lap := fmt.Sprintf("%d/%d", r.Lap, v.TotalLaps)
		current := optTime(r.CurrentLap)
		if r.Finished {
			lap = "finished"
			current = ""
		}
		t.AppendRow(table.Row{
			format.Ordinal(r.Position),
			string(r.Racer),
			lap,
			format.Progress(r.Progress),
			current,
			optTime(r.LastLap),
			optTime(r.BestLap),
			format.LapTime(r.TotalTime),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.Render()
}

// String renders the view into a string
func (v View) String() string {
	var b bytes.Buffer
	Render(&b, v)
	return b.String()
}

// JSON returns the view as JSON document with sorted keys.
// Lap times not available are omitted.
func JSON(v View) string {
	rows := make([]any, 0, len(v.Rows))
	for i := range v.Rows {
		r := &v.Rows[i]
		row := map[string]any{
			"position":      r.Position,
			"racer":         string(r.Racer),
			"lap":           r.Lap,
			"lapsCompleted": r.LapsCompleted,
			"progress":      r.Progress,
			"raceProgress":  r.RaceProgress,
			"totalTime":     r.TotalTime,
			"finished":      r.Finished,
		}
		if current, ok := r.CurrentLap.Get(); ok {
			row["currentLap"] = current
		}
		if last, ok := r.LastLap.Get(); ok {
			row["lastLap"] = last
		}
		if best, ok := r.BestLap.Get(); ok {
			row["bestLap"] = best
		}
		rows = append(rows, row)
	}
	doc := map[string]any{
		"track":     v.Track,
		"totalLaps": v.TotalLaps,
		"active":    v.Active,
		"elapsed":   v.Elapsed,
		"rows":      rows,
	}
	return oj.JSON(doc, &oj.Options{Sort: true})
}

func optTime(v omit.Val[float64]) string {
	if t, ok := v.Get(); ok {
		return format.LapTime(t)
	}
	return format.NoTime
}

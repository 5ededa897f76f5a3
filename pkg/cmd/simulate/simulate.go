package simulate

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/cmd/util"
	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/lifecycle"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/motion"
	"github.com/mpapenbr/race-progress/pkg/ranking"
	"github.com/mpapenbr/race-progress/pkg/session"
	"github.com/mpapenbr/race-progress/pkg/standings"
	"github.com/mpapenbr/race-progress/pkg/track"
)

type simConfig struct {
	racers        int
	prefix        string
	speed         float64
	speedSpread   float64
	realtime      bool
	printInterval time.Duration
	maxDuration   time.Duration
	output        string
}

var simCfg simConfig

func NewSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "runs a race with simulated racers and prints the standings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&simCfg.racers,
		"racers",
		"n",
		4,
		"number of simulated racers")
	cmd.Flags().StringVar(&simCfg.prefix,
		"prefix",
		"car",
		"prefix of the racer ids")
	cmd.Flags().Float64Var(&simCfg.speed,
		"speed",
		40,
		"speed of the fastest racer (units per second)")
	cmd.Flags().Float64Var(&simCfg.speedSpread,
		"speed-spread",
		0.1,
		"the slowest racer drives this fraction slower than the fastest")
	cmd.Flags().BoolVar(&simCfg.realtime,
		"realtime",
		false,
		"run in wall clock time and exchange updates with other processes")
	cmd.Flags().DurationVar(&simCfg.printInterval,
		"print-interval",
		5*time.Second,
		"interval (race time) between standings output, 0 disables")
	cmd.Flags().DurationVar(&simCfg.maxDuration,
		"max-duration",
		time.Hour,
		"the simulation stops after this race time")
	cmd.Flags().StringVarP(&simCfg.output,
		"output",
		"o",
		"table",
		"output format of the standings (table, json)")
	util.AddRaceFlags(cmd)
	util.AddTrackFlags(cmd)
	return cmd
}

// racerSpeeds distributes the speeds linearly between speed and
// speed*(1-spread)
func racerSpeeds(n int, speed, spread float64) []float64 {
	ret := make([]float64, n)
	for i := range ret {
		if n == 1 {
			ret[i] = speed
			continue
		}
		ret[i] = speed * (1 - spread*float64(i)/float64(n-1))
	}
	return ret
}

func printStandings(w io.Writer, v standings.View) {
	switch simCfg.output {
	case "json":
		fmt.Fprintln(w, standings.JSON(v))
	default:
		standings.Render(w, v)
	}
}

//nolint:funlen // setup
func runSimulation(parent context.Context, w io.Writer) error {
	if _, err := util.SetupLogger(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := util.SignalContext(parent)
	defer cancel()

	util.StartProfiling()
	if telemetry := util.SetupTelemetry(ctx); telemetry != nil {
		defer telemetry.Shutdown()
	}
	util.SetupGoRoutinesDump()

	if simCfg.racers < 1 {
		return fmt.Errorf("at least one racer required, got %d", simCfg.racers)
	}
	tr, err := util.LoadTrack(ctx)
	if err != nil {
		return err
	}
	opts := []session.Option{
		session.WithAggregator(ranking.NewAggregator()),
		session.WithSettings(config.Race),
		session.WithTracer(otel.Tracer("rpt")),
	}
	if simCfg.realtime {
		t, err := util.NewTransport(ctx, config.SessionKey)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithTransport(t))
	}
	sess, err := session.New(tr, opts...)
	if err != nil {
		return err
	}
	defer util.CloseSession(sess)

	if err := joinRacers(sess, tr); err != nil {
		return err
	}
	if simCfg.realtime {
		err = runRealtime(ctx, sess, w)
	} else {
		err = runFast(ctx, sess, w)
	}
	if err != nil {
		return err
	}
	printStandings(w, sess.Standings())
	return nil
}

func joinRacers(sess *session.Session, tr *track.Track) error {
	for i, speed := range racerSpeeds(simCfg.racers, simCfg.speed, simCfg.speedSpread) {
		id := model.RacerID(fmt.Sprintf("%s-%d", simCfg.prefix, i+1))
		if _, err := sess.Join(id, motion.NewPathFollower(tr, speed)); err != nil {
			return err
		}
		log.Debug("racer created", log.String("racer", string(id)), log.Float64("speed", speed))
	}
	return nil
}

// runFast ticks as fast as possible using the simulated clock
func runFast(ctx context.Context, sess *session.Session, w io.Writer) error {
	sess.Start()
	nextPrint := simCfg.printInterval.Seconds()
	limit := simCfg.maxDuration.Seconds()
	for sess.RaceClock().Active() {
		if err := ctx.Err(); err != nil {
			return nil //nolint:nilerr // interrupted by user
		}
		sess.Tick(ctx)
		sess.Refresh()
		elapsed := sess.RaceClock().Elapsed()
		if simCfg.printInterval > 0 && elapsed >= nextPrint {
			printStandings(w, sess.Standings())
			nextPrint += simCfg.printInterval.Seconds()
		}
		if elapsed >= limit {
			log.Warn("race time limit reached", log.Duration("limit", simCfg.maxDuration))
			sess.RaceClock().End()
		}
	}
	return nil
}

// runRealtime runs the session until the race ended or the user interrupts
func runRealtime(ctx context.Context, sess *session.Session, w io.Writer) error {
	events, cancelEvents := sess.RaceClock().Subscribe()
	defer cancelEvents()

	runCtx, stop := context.WithTimeout(ctx, simCfg.maxDuration)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- sess.Run(runCtx) }()

	var printC <-chan time.Time
	if simCfg.printInterval > 0 {
		ticker := time.NewTicker(simCfg.printInterval)
		defer ticker.Stop()
		printC = ticker.C
	}
	for {
		select {
		case err := <-done:
			return err
		case <-printC:
			printStandings(w, sess.Standings())
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			log.Info("race event", log.String("event", e.String()))
			if e == lifecycle.RaceEnded {
				stop()
			}
		}
	}
}

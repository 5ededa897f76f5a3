package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/cmd/util"
	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/endpoints/live"
	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/motion"
	"github.com/mpapenbr/race-progress/pkg/ranking"
	"github.com/mpapenbr/race-progress/pkg/session"
)

type serverConfig struct {
	racers       int
	prefix       string
	speed        float64
	pushInterval time.Duration
	smoothing    float64
}

var srvCfg serverConfig

func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "joins a race session and serves the live standings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.ListenAddr,
		"addr",
		"a",
		"localhost:8080",
		"listen address for the standings endpoints")
	cmd.Flags().StringSliceVar(&config.CorsAllowedOrigins,
		"cors-allowed-origins",
		nil,
		"allowed origins for browser clients, all origins if empty")
	cmd.Flags().IntVar(&srvCfg.racers,
		"racers",
		0,
		"number of racers driven by this process, 0 for observing only")
	cmd.Flags().StringVar(&srvCfg.prefix,
		"prefix",
		"srv",
		"prefix of the ids of racers driven by this process")
	cmd.Flags().Float64Var(&srvCfg.speed,
		"speed",
		40,
		"speed of the racers driven by this process")
	cmd.Flags().DurationVar(&srvCfg.pushInterval,
		"push-interval",
		100*time.Millisecond,
		"minimum interval between two standings pushed to a websocket client")
	cmd.Flags().Float64Var(&srvCfg.smoothing,
		"smoothing",
		8,
		"how fast the race progress pushed to websocket clients follows the actual value")
	util.AddRaceFlags(cmd)
	util.AddTrackFlags(cmd)
	return cmd
}

//nolint:funlen // setup and shutdown
func startServer(parent context.Context) error {
	if _, err := util.SetupLogger(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := util.SignalContext(parent)
	defer cancel()

	log.Debug("Config:",
		log.String("addr", config.ListenAddr),
		log.String("nats", config.NatsURL),
		log.String("session", config.SessionKey),
		log.String("track", config.TrackName),
	)
	util.StartProfiling()
	telemetry := util.SetupTelemetry(ctx)

	tr, err := util.LoadTrack(ctx)
	if err != nil {
		return err
	}
	t, err := util.NewTransport(ctx, config.SessionKey)
	if err != nil {
		return err
	}
	sess, err := session.New(tr,
		session.WithAggregator(ranking.NewAggregator()),
		session.WithSettings(config.Race),
		session.WithTransport(t),
		session.WithTracer(otel.Tracer("rpt")))
	if err != nil {
		return err
	}
	defer util.CloseSession(sess)
	for i := range srvCfg.racers {
		id := model.RacerID(fmt.Sprintf("%s-%d", srvCfg.prefix, i+1))
		if _, err := sess.Join(id, motion.NewPathFollower(tr, srvCfg.speed)); err != nil {
			return err
		}
	}

	checker := grpchealth.NewStaticChecker()
	mux := http.NewServeMux()
	mux.Handle(grpchealth.NewHandler(checker))
	live.NewHandler(sess,
		live.WithInterval(srvCfg.pushInterval),
		live.WithSmoothing(srvCfg.smoothing),
		live.WithCheckOrigin(checkOrigin(config.CorsAllowedOrigins)),
	).Register(mux)

	log.Info("Starting server", log.String("addr", config.ListenAddr))
	//nolint:gosec // read timeouts not needed for websocket clients
	server := &http.Server{
		Addr:    config.ListenAddr,
		Handler: h2c.NewHandler(newCORS(config.CorsAllowedOrigins).Handler(mux), &http2.Server{}),
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- sess.Run(ctx) }()
	log.Info("Server started")
	util.SetupGoRoutinesDump()

	select {
	case <-ctx.Done():
		log.Debug("Got signal")
	case err = <-serverErr:
		log.Error("server could not be started", log.ErrorField(err))
		cancel()
	}
	checker.SetStatus("", grpchealth.StatusNotServing)
	if runErr := <-sessionDone; runErr != nil {
		log.Warn("session stopped", log.ErrorField(runErr))
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("server shutdown", log.ErrorField(shutdownErr))
	}
	if telemetry != nil {
		telemetry.Shutdown()
	}
	log.Info("Server terminated")
	return err
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}

func newCORS(allowed []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			// no configured origins means all origins are allowed
			return len(allowed) == 0 || slices.Contains(allowed, origin)
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			// Content-Type is in the default safelist.
			"Accept",
			"Accept-Encoding",
			"Content-Encoding",
			"Grpc-Accept-Encoding",
			"Grpc-Encoding",
			"Grpc-Message",
			"Grpc-Status",
		},
		// Let browsers cache CORS information for longer, which reduces the number
		// of preflight requests.
		MaxAge: int(2 * time.Hour / time.Second),
	})
}

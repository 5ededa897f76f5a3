// Package util contains helpers shared by the commands
package util

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // profiling is opt-in via flag
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/race-progress/log"
	"github.com/mpapenbr/race-progress/pkg/config"
	"github.com/mpapenbr/race-progress/pkg/session"
	"github.com/mpapenbr/race-progress/pkg/transport"
	"github.com/mpapenbr/race-progress/pkg/transport/local"
	natstransport "github.com/mpapenbr/race-progress/pkg/transport/nats"
	"github.com/mpapenbr/race-progress/pkg/utils"
)

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

// SetupLogger creates the logger according to the log flags and makes it
// the default logger
func SetupLogger() (*log.Logger, error) {
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	if config.LogFilter != "" {
		filter, err := log.WithFilter(config.LogFilter)
		if err != nil {
			return nil, fmt.Errorf("invalid log filter: %w", err)
		}
		opts = append(opts, filter)
	}
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			opts...)
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			opts...)
	}
	log.ResetDefault(logger)
	return logger, nil
}

func StartProfiling() {
	if config.ProfilingPort <= 0 {
		return
	}
	log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
	go func() {
		//nolint:gosec // local only
		err := http.ListenAndServe(
			fmt.Sprintf("localhost:%d", config.ProfilingPort),
			nil)
		if err != nil {
			log.Error("Profiling server stopped", log.ErrorField(err))
		}
	}()
}

// SetupTelemetry returns nil if telemetry is disabled or could not be setup
func SetupTelemetry(ctx context.Context) *config.Telemetry {
	if !config.EnableTelemetry {
		return nil
	}
	log.Info("Enabling telemetry")
	var telemetry *config.Telemetry
	var err error
	if config.TelemetryStdout {
		telemetry, err = config.SetupStdoutTelemetry(os.Stdout)
	} else {
		telemetry, err = config.SetupTelemetry(ctx)
	}
	if err != nil {
		log.Warn("Could not setup telemetry", log.ErrorField(err))
		return nil
	}
	err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
	if err != nil {
		log.Warn("Could not start runtime metrics", log.ErrorField(err))
	}
	return telemetry
}

func SetupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

// WaitForRequiredServices blocks until the NATS server accepts connections.
// Nothing to wait for if no NATS url is configured.
func WaitForRequiredServices(ctx context.Context) error {
	addr := utils.ExtractFromNatsURL(config.NatsURL)
	if addr == "" {
		return nil
	}
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}
	log.Debug("Waiting for connection checks to return")
	if err := utils.WaitForTCP(ctx, addr, timeout); err != nil {
		return fmt.Errorf("required services not ready: %w", err)
	}
	log.Debug("Required services are available")
	return nil
}

// NewTransport connects to NATS if configured, otherwise an in-process
// bus is used
func NewTransport(ctx context.Context, session string) (transport.Transport, error) {
	if config.NatsURL == "" {
		log.Info("Using in-process transport")
		return local.NewBus(), nil
	}
	if err := WaitForRequiredServices(ctx); err != nil {
		return nil, err
	}
	conn, err := nats.Connect(config.NatsURL, nats.Name("rpt-"+session))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("Connected to NATS",
		log.String("url", config.NatsURL), log.String("session", session))
	t, err := natstransport.New(conn, session, natstransport.WithContext(ctx))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

// SignalContext returns a context which is canceled on interrupt
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// CloseSession announces that the local racers leave and closes the session.
// The announcements use their own short timeout.
func CloseSession(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.LeaveAll(ctx); err != nil {
		log.Warn("Could not announce leaving racers", log.ErrorField(err))
	}
	if err := sess.Close(); err != nil {
		log.Warn("Could not close session", log.ErrorField(err))
	}
}

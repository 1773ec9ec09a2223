package app

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/strandhq/longhouse/internal/config"
	redisstore "github.com/strandhq/longhouse/internal/store/redis"
	"github.com/strandhq/longhouse/internal/telemetry"
	"github.com/strandhq/longhouse/internal/worker"
)

// App runs the configured number of worker instances on one shared
// listener. Each instance holds its own Redis connections; a client's
// socket lands on exactly one instance and the instances converge through
// keyspace-change notifications.
type App struct {
	cfg config.Config
	log *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) *App {
	return &App{cfg: cfg, log: logger}
}

// Run starts the listener and workers and blocks until context
// cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	if err := telemetry.Init(a.cfg.SentryDSN, a.cfg.Environment); err != nil {
		a.log.Warn().Err(err).Msg("sentry init failed, telemetry disabled")
	}
	defer telemetry.Flush(2 * time.Second)

	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	a.log.Info().
		Str("addr", a.cfg.Addr).
		Int("num_workers", a.cfg.NumWorkers).
		Msg("listening")

	return worker.Run(ctx, a.cfg.NumWorkers, func(ctx context.Context, id int) error {
		return a.runInstance(ctx, id, ln)
	})
}

func (a *App) runInstance(ctx context.Context, id int, ln net.Listener) error {
	logger := a.log.With().Int("worker", id).Logger()

	st, err := redisstore.New(a.cfg.RedisURL, &logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ConfigureKeyspaceEvents(ctx); err != nil {
		return err
	}

	instance := NewInstance(a.cfg, &logger, st, st)
	if err := instance.Start(ctx); err != nil {
		return err
	}

	server := &stdhttp.Server{
		Handler:           instance.Handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(ln)
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, stdhttp.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		logger.Info().Msg("shutting down http server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		instance.Register.RemoveAllClients()
		if err := <-serverErr; err != nil && !errors.Is(err, stdhttp.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}
}

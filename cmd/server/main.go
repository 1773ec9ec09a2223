package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/strandhq/longhouse/internal/app"
	"github.com/strandhq/longhouse/internal/config"
	"github.com/strandhq/longhouse/internal/log"
)

func main() {
	var (
		configPath string
		overrides  config.Config
	)

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.RedisURL, "redis-url", "", "redis connection URL")
	flag.DurationVar(&overrides.PresenceTTL, "presence-ttl", 0, "presence lease duration")
	flag.IntVar(&overrides.NumWorkers, "num-workers", 0, "number of server instances")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	bootLogger := log.New("info")
	cfg, path, err := config.Load(bootLogger, configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Str("path", path).Msg("load config")
	}
	cfg.UpdateFrom(overrides)

	logger := log.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)

	logger.Info().Str("config", path).Msg("starting longhouse server")
	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}

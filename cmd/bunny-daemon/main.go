package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/cache"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/config"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/daemon"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/solver"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/taskapi"
)

func main() {
	var (
		once          bool
		maxIterations int
	)
	rootCmd := &cobra.Command{
		Use:   "bunny-daemon",
		Short: "Federated cohort discovery worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if once {
				maxIterations = 1
			}
			return runDaemon(maxIterations)
		},
	}
	rootCmd.Flags().BoolVar(&once, "once", false, "poll a single time, then exit")
	rootCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "stop after this many polls (0 = run forever)")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(maxIterations int) error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = logger.Level(cfg.LogLevel())
	if err := cfg.ValidateDatasource(); err != nil {
		logger.Fatal().Err(err).Msg("invalid datasource settings")
	}
	if err := cfg.ValidateTaskAPI(); err != nil {
		logger.Fatal().Err(err).Msg("invalid task api settings")
	}
	logger.Info().Fields(cfg.Redacted()).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	client, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to warehouse")
	}
	defer client.Close()
	logger.Info().Str("engine", string(client.Engine())).Msg("connected to warehouse")
	db.WarnMissingIndexes(ctx, client, logger)

	// Distribution cache
	resultCache := cache.Disabled()
	if cfg.CacheEnabled() {
		resultCache, err = cache.New(cfg.CacheDir, cfg.CacheTTL(), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open cache")
		}
	}

	// Solver
	filters := obfuscation.DefaultFilters(cfg.LowNumberSuppressionThreshold, cfg.RoundingTarget)
	sv := solver.New(client, logger, filters).WithCache(resultCache)

	// Background cache refresher
	if cfg.CacheRefreshEnabled && resultCache.Enabled() {
		refresher := cache.NewRefresher(sv.Solve,
			cache.CommonQueries(cfg.TaskAPIUsername, cfg.CollectionID),
			cfg.CacheTTL(), logger)
		refresher.Start(ctx)
		defer refresher.Stop()
	}

	// Health endpoint
	if cfg.HealthAddr != "" {
		health := daemon.NewHealth(client, logger)
		health.Start(cfg.HealthAddr)
		defer health.Shutdown(context.Background())
	}

	// Polling loop
	source := taskapi.New(cfg.TaskAPIBaseURL, cfg.TaskAPIUsername, cfg.TaskAPIPassword,
		cfg.TaskAPIType, logger)
	loop := daemon.NewLoop(source, sv.Solve, cfg.CollectionID,
		cfg.PollingIntervalDuration(), cfg.InitialBackoffDuration(),
		cfg.MaxBackoffDuration(), logger)

	err = loop.Run(ctx, maxIterations)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("shutting down")
		return nil
	}
	return err
}

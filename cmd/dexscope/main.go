package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dexscope/internal/config"
	"dexscope/internal/scheduler"
	"dexscope/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "dexscope",
		Short:        "DEX event harvester and state rebuilder",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("deployment", "", "restrict to one deployment key (blockchainType-exchangeID)")

	harvestCmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest all streams once, up to the current head",
		RunE:  runHarvest,
	}
	root.AddCommand(harvestCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay referral state from harvested streams",
		RunE:  runReplay,
	}
	root.AddCommand(replayCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run recurring harvest and replay cycles",
		RunE:  runScheduler,
	}
	runCmd.Flags().String("redis-addr", "", "Redis address for the deployment lock (empty disables locking)")
	runCmd.Flags().Int("redis-db", 0, "Redis database number")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	cfg    config.Config
	logger *zap.Logger
	store  *postgres.Store
	apps   []*deploymentApp
}

func (e *env) close() {
	for _, app := range e.apps {
		app.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
	if e.logger != nil {
		e.logger.Sync()
	}
}

func setup(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	e := &env{cfg: cfg, logger: logger, store: store}

	only, _ := cmd.Flags().GetString("deployment")
	for _, dep := range cfg.Deployments {
		if only != "" && dep.Key() != only {
			continue
		}
		app, err := newDeploymentApp(ctx, cfg, dep, store, logger)
		if err != nil {
			e.close()
			return nil, err
		}
		e.apps = append(e.apps, app)
	}
	if len(e.apps) == 0 {
		e.close()
		return nil, fmt.Errorf("no deployments configured")
	}
	return e, nil
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	for _, app := range e.apps {
		if err := app.harvestOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runReplay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	for _, app := range e.apps {
		if err := app.replayOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	locker, err := newLocker(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(locker, e.logger)
	for _, app := range e.apps {
		app := app
		job := scheduler.Job{
			Key:      app.dep.Key(),
			Interval: app.dep.HarvestInterval,
			LockTTL:  app.dep.LockTTL,
			Run: func(ctx context.Context) error {
				if err := app.harvestOnce(ctx); err != nil {
					return err
				}
				return app.replayOnce(ctx)
			},
		}
		if err := sched.Add(ctx, job); err != nil {
			return err
		}
	}

	e.logger.Info("scheduler start", zap.Int("deployments", len(e.apps)))
	sched.Start()
	<-ctx.Done()
	sched.Stop()
	e.logger.Info("scheduler stopped")
	return nil
}

func newLocker(ctx context.Context, cfg config.Config, logger *zap.Logger) (scheduler.Locker, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("no redis address, running without a deployment lock")
		return scheduler.NopLocker{}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
	}
	return scheduler.NewRedisLocker(client, logger), nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

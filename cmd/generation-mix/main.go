package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/generation-mix/internal/api/http"
	"github.com/i474232898/generation-mix/internal/config"
	"github.com/i474232898/generation-mix/internal/generation"
	"github.com/i474232898/generation-mix/internal/generation/providers"
	"github.com/i474232898/generation-mix/internal/lock"
	"github.com/i474232898/generation-mix/internal/logging"
	"github.com/i474232898/generation-mix/internal/scheduler"
	"github.com/i474232898/generation-mix/internal/store"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stderr))
}

// execute runs the CLI and reports any error on stderr, since cobra's own
// error printing is silenced.
func execute(args []string, stderr io.Writer) int {
	root := rootCmd()
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "generation-mix",
		Short:         "GB generation mix ETL pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), runCmd(), migrateCmd())
	return root
}

// app bundles the dependencies shared by every subcommand.
type app struct {
	cfg    *config.AppConfig
	logger *zap.Logger
	db     *sqlx.DB
	redis  *redis.Client
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
	_ = a.logger.Sync()
}

func (a *app) service(ctx context.Context) (*generation.Service, error) {
	// Shared HTTP client for outbound upstream calls.
	httpClient := &http.Client{Timeout: a.cfg.HTTPTimeout}

	fetcher := providers.NewNESOProvider(httpClient, providers.NESOConfig{
		BaseURL:    a.cfg.NESOBaseURL,
		ResourceID: a.cfg.NESOResourceID,
		Backoff: providers.BackoffConfig{
			MaxRetries:      a.cfg.MaxRetries,
			InitialInterval: a.cfg.InitialBackoff,
			MaxInterval:     a.cfg.MaxBackoff,
		},
	}, a.logger)

	transformer := generation.NewTransformer(generation.TransformOptions{
		Tolerance: a.cfg.PercTolerance,
		Reconcile: a.cfg.PercReconcile,
	}, a.logger)

	var locker generation.Locker = lock.NewLocal()
	if a.cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
		}
		locker = lock.NewRedis(a.redis, "generation-mix:lock:", a.cfg.LockTTL, a.logger)
	}

	return generation.NewService(
		fetcher,
		transformer,
		store.NewGenerationStore(a.db, a.cfg.StoreMaxParams, a.logger),
		store.NewRunStore(a.db, a.logger),
		locker,
		generation.ServiceConfig{
			BatchSize:  a.cfg.BatchSize,
			MaxRecords: a.cfg.MaxRecords,
		},
		a.logger,
	), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			service, err := a.service(ctx)
			if err != nil {
				a.logger.Error("init pipeline", zap.Error(err))
				return err
			}

			// Scheduler that periodically runs the pipeline.
			sched := scheduler.New(service, a.cfg.ScheduleInterval, a.cfg.LockTTL, a.logger)
			if err := sched.Start(); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer sched.Stop()

			server := httpapi.NewApp(service, a.logger)
			go func() {
				if err := server.Listen(":" + a.cfg.Port); err != nil {
					a.logger.Error("fiber server stopped", zap.Error(err))
				}
			}()
			a.logger.Info("listening", zap.String("port", a.cfg.Port))

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.ShutdownWithContext(shutdownCtx); err != nil {
				a.logger.Error("error during shutdown", zap.Error(err))
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			service, err := a.service(ctx)
			if err != nil {
				a.logger.Error("init pipeline", zap.Error(err))
				return err
			}

			m, err := service.RunOnce(ctx)
			if err != nil {
				a.logger.Error("pipeline run failed", zap.Error(err))
				return err
			}

			a.logger.Info("pipeline run succeeded",
				zap.Int("total_fetched", m.TotalFetched),
				zap.Int("valid_records", m.ValidRecords),
				zap.Int64("last_fetched_id", m.LastFetchedID),
			)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(*cobra.Command, []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			a.close()
			return nil
		},
	}
}

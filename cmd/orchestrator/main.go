// Package main is the entry point for the orchestrator binary.
// It wires the metadata store, the artifact store, the scheduler tasks
// (sender, getter, janitor) and the ingest/download HTTP surface together,
// then blocks until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rvhonorato/orchestrator/internal/api"
	"github.com/rvhonorato/orchestrator/internal/artifact"
	"github.com/rvhonorato/orchestrator/internal/config"
	"github.com/rvhonorato/orchestrator/internal/db"
	"github.com/rvhonorato/orchestrator/internal/repositories"
	"github.com/rvhonorato/orchestrator/internal/scheduler"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type flags struct {
	httpAddr string
	dbDriver string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Orchestrator — forwards user jobs to backend execution services",
		Long: `Orchestrator accepts user-submitted computation payloads, forwards
them to one of the configured destination services, polls for completion,
and serves the resulting artifacts for download.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&f.httpAddr, "http-addr", config.EnvOrDefault("HTTP_ADDR", ":5000"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&f.dbDriver, "db-driver", config.EnvOrDefault("DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", config.EnvOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orchestrator %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, f *flags) error {
	logger, err := buildLogger(f.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(cfg.Services) == 0 {
		logger.Warn("no services configured — uploads will be rejected with 503")
	}

	logger.Info("starting orchestrator",
		zap.String("version", version),
		zap.String("http_addr", f.httpAddr),
		zap.String("data_path", cfg.DataPath),
		zap.Int("services", len(cfg.Services)),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Artifact store ---
	store, err := artifact.NewStore(cfg.DataPath)
	if err != nil {
		return err
	}

	// --- Metadata store ---
	gormDB, err := db.New(db.Config{
		Driver:   f.dbDriver,
		DSN:      cfg.DBPath,
		Logger:   logger,
		LogLevel: gormLogLevel(f.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- Repositories ---
	jobRepo := repositories.NewJobRepository(gormDB)

	// --- Scheduler ---
	sender := scheduler.NewSender(jobRepo, cfg, logger)
	sender.Reconcile(ctx)

	sched, err := scheduler.New(logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Every(cfg.SendInterval, sender); err != nil {
		return err
	}
	if err := sched.Every(cfg.GetInterval, scheduler.NewGetter(jobRepo, cfg, logger)); err != nil {
		return err
	}
	if err := sched.Every(cfg.CleanInterval, scheduler.NewJanitor(jobRepo, cfg.DataPath, cfg.MaxAge, logger)); err != nil {
		return err
	}
	sched.Start(ctx)
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- HTTP server ---
	router := api.NewOrchestratorRouter(api.OrchestratorRouterConfig{
		Jobs:   jobRepo,
		Store:  store,
		Config: cfg,
		DB:     gormDB,
		Logger: logger,
	})

	httpSrv := &http.Server{
		Addr:        f.httpAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Minute, // uploads may be large and slow
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", f.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down orchestrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("orchestrator stopped")
	return nil
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

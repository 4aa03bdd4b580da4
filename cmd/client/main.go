// Package main is the entry point for the client binary: the process
// deployed next to (or as) a destination. It accepts forwarded payloads on
// /submit, executes them with the runner task, and serves their zipped
// outputs on /retrieve.
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
		Use:   "client",
		Short: "Client — executes forwarded payloads next to a destination",
		Long: `Client receives payloads forwarded by the orchestrator, stages
them on disk, runs each bundle's run.sh, and exposes the zipped outputs
for retrieval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&f.httpAddr, "http-addr", config.EnvOrDefault("HTTP_ADDR", ":9000"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&f.dbDriver, "db-driver", config.EnvOrDefault("DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", config.EnvOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("client %s (commit: %s, built: %s)\n", version, commit, date)
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

	logger.Info("starting client",
		zap.String("version", version),
		zap.String("http_addr", f.httpAddr),
		zap.String("data_path", cfg.DataPath),
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
	payloadRepo := repositories.NewPayloadRepository(gormDB)

	// --- Scheduler ---
	sched, err := scheduler.New(logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Every(cfg.RunInterval, scheduler.NewRunner(payloadRepo, cfg.DataPath, logger)); err != nil {
		return err
	}
	sched.Start(ctx)
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- HTTP server ---
	router := api.NewClientRouter(api.ClientRouterConfig{
		Payloads: payloadRepo,
		Store:    store,
		DB:       gormDB,
		Logger:   logger,
	})

	httpSrv := &http.Server{
		Addr:        f.httpAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Minute, // forwarded payloads may be large
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
	logger.Info("shutting down client")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("client stopped")
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

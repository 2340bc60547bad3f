package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/annodex/internal/index"
	"github.com/user/annodex/internal/observability"
	"github.com/user/annodex/internal/reindex"
	"github.com/user/annodex/internal/scheduler"
	"github.com/user/annodex/internal/server"
	"github.com/user/annodex/internal/store"
)

var (
	logLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "annodex",
	Short: "Annodex — annotation search index and bulk reindex service",
	Long:  "Annotation store with a full-text search index and an administrable bulk reindex job engine.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Annodex server",
	RunE:  runServer,
}

var (
	bindAddr          string
	dataDir           string
	workers           int
	jobWorkers        int
	chunkSize         int
	recordTimeout     time.Duration
	errorRatio        float64
	breakerMinSample  int
	maxTerminalJobs   int
	retentionInterval time.Duration
	shutdownTimeout   time.Duration
	otelEnabled       bool
	otelEndpoint      string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	serverCmd.Flags().StringVar(&bindAddr, "bind", ":8080", "HTTP server bind address")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "data", "Directory for the SQLite database and search index")
	serverCmd.Flags().IntVar(&workers, "workers", reindex.DefaultWorkers, "Global reindex worker pool size shared by all jobs")
	serverCmd.Flags().IntVar(&jobWorkers, "job-workers", reindex.DefaultJobWorkers, "Per-job concurrency bound")
	serverCmd.Flags().IntVar(&chunkSize, "chunk-size", reindex.DefaultChunkSize, "Selector resolution page size")
	serverCmd.Flags().DurationVar(&recordTimeout, "record-timeout", reindex.DefaultRecordTimeout, "Per-record pipeline deadline (e.g. 30s, 2m)")
	serverCmd.Flags().Float64Var(&errorRatio, "error-ratio", reindex.DefaultErrorRatio, "Index-error fraction that aborts a job")
	serverCmd.Flags().IntVar(&breakerMinSample, "breaker-min-sample", reindex.DefaultBreakerMinSample, "Records attempted before the error-ratio abort may trigger")
	serverCmd.Flags().IntVar(&maxTerminalJobs, "max-terminal-jobs", reindex.DefaultMaxTerminalJobs, "How many finished jobs to retain before the oldest are purged")
	serverCmd.Flags().DurationVar(&retentionInterval, "retention-interval", time.Minute, "How often to run the purge sweep for old terminal jobs")
	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful HTTP shutdown timeout before force-close (e.g. 500ms, 2s)")
	serverCmd.Flags().BoolVar(&otelEnabled, "otel-enabled", false, "Enable OpenTelemetry tracing")
	serverCmd.Flags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint (host:port) for traces; if empty uses stdout exporter")

	rootCmd.AddCommand(serverCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func runServer(cmd *cobra.Command, args []string) error {
	if workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if jobWorkers < 1 {
		return fmt.Errorf("job-workers must be >= 1")
	}
	if chunkSize < 1 {
		return fmt.Errorf("chunk-size must be >= 1")
	}
	if errorRatio <= 0 || errorRatio > 1 {
		return fmt.Errorf("error-ratio must be in (0, 1]")
	}

	slog.Info("starting annodex server",
		"bind", bindAddr,
		"data_dir", dataDir,
		"workers", workers,
		"job_workers", jobWorkers,
		"chunk_size", chunkSize,
		"record_timeout", recordTimeout,
		"error_ratio", errorRatio,
		"breaker_min_sample", breakerMinSample,
		"max_terminal_jobs", maxTerminalJobs,
		"retention_interval", retentionInterval,
		"otel_enabled", otelEnabled,
	)

	shutdownTracer, err := observability.InitTracer(otelEnabled, "annodex-server", otelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			slog.Warn("tracer shutdown error", "error", err)
		}
	}()

	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	st := store.NewStore(db)

	ix, err := index.Open(filepath.Join(dataDir, "index"))
	if err != nil {
		st.Close()
		return fmt.Errorf("open index: %w", err)
	}

	cfg := reindex.Config{
		Workers:          workers,
		JobWorkers:       jobWorkers,
		ChunkSize:        chunkSize,
		RecordTimeout:    recordTimeout,
		ErrorRatio:       errorRatio,
		BreakerMinSample: breakerMinSample,
		MaxRecentErrors:  reindex.DefaultMaxRecentErrors,
		MaxTerminalJobs:  maxTerminalJobs,
	}
	dispatcher := reindex.New(st, ix, cfg)

	sweeper := scheduler.New(dispatcher.Registry(), scheduler.Config{Interval: retentionInterval})
	schedCtx, schedCancel := context.WithCancel(context.Background())
	go sweeper.Run(schedCtx)

	srv := server.New(dispatcher, ix, bindAddr)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("annodex server ready", "bind", bindAddr)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	// Graceful shutdown sequence
	slog.Info("stopping HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}

	slog.Info("stopping retention sweeper")
	schedCancel()

	slog.Info("cancelling in-flight reindex jobs")
	for _, j := range dispatcher.Registry().List() {
		if !j.State.Terminal() {
			dispatcher.Registry().RequestCancel(j.ID)
		}
	}
	dispatcher.Wait()

	slog.Info("closing index")
	if err := ix.Close(); err != nil {
		slog.Error("index close error", "error", err)
	}

	slog.Info("closing store")
	if err := st.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("annodex server stopped")
	return nil
}

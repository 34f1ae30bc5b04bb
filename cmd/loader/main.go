package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/weather-data-loader/internal/adapter/http"
	"github.com/couchcryptid/weather-data-loader/internal/adapter/intake"
	kafkaadapter "github.com/couchcryptid/weather-data-loader/internal/adapter/kafka"
	"github.com/couchcryptid/weather-data-loader/internal/adapter/postgres"
	"github.com/couchcryptid/weather-data-loader/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-data-loader/internal/config"
	"github.com/couchcryptid/weather-data-loader/internal/observability"
	"github.com/couchcryptid/weather-data-loader/internal/pipeline"
)

// Process exit codes.
const (
	exitOK         = 0
	exitConfig     = 1
	exitAborted    = 2
	exitFileFailed = 3
)

type store interface {
	pipeline.Store
	EnsureSchema(ctx context.Context) error
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitConfig
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		return exitAborted
	}
	defer closeStore()

	if cfg.AutoMigrate {
		if err := st.EnsureSchema(ctx); err != nil {
			logger.Error("failed to create schema", "error", err)
			return exitAborted
		}
	}

	var publisher pipeline.ReportPublisher
	if len(cfg.KafkaBrokers) > 0 {
		reports := kafkaadapter.NewReportPublisher(cfg, logger)
		defer func() {
			if err := reports.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = reports
		logger.Info("run reports enabled", "topic", cfg.KafkaReportTopic)
	}

	archiver := intake.NewArchiver(nil, logger)
	p := pipeline.New(st, archiver, publisher, pipeline.OptionsFromConfig(cfg), logger, metrics)

	if cfg.RunInterval > 0 {
		return serve(ctx, cfg, p, metrics, logger)
	}

	sum := p.RunOnce(ctx)
	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(ctx, cfg.PushgatewayURL, cfg.PushgatewayJob); err != nil {
			logger.Warn("metrics push failed", "error", err)
		}
	}
	return exitCode(sum)
}

// serve runs the pipeline on a schedule next to the HTTP endpoints until a
// shutdown signal arrives.
func serve(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, metrics *observability.Metrics, logger *slog.Logger) int {
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, metrics.Gatherer(), logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx, cfg.RunInterval); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}

	logger.Info("shutdown complete")
	return exitOK
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.NewStore(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("sqlite close error", "error", err)
			}
		}, nil
	case config.DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func exitCode(sum pipeline.Summary) int {
	switch {
	case sum.Status == pipeline.StatusAborted:
		return exitAborted
	case sum.HasFailures():
		return exitFileFailed
	default:
		return exitOK
	}
}

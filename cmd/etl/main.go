package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	fileadapter "github.com/couchcryptid/dengue-rain-etl/internal/adapter/file"
	httpadapter "github.com/couchcryptid/dengue-rain-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/dengue-rain-etl/internal/adapter/kafka"
	sqliteadapter "github.com/couchcryptid/dengue-rain-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/dengue-rain-etl/internal/config"
	"github.com/couchcryptid/dengue-rain-etl/internal/observability"
	"github.com/couchcryptid/dengue-rain-etl/internal/pipeline"
)

func main() {
	beam.Init()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("job failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	dengue := fileadapter.NewReader(cfg.DengueInput, cfg.SkipHeaderLines)
	rain := fileadapter.NewReader(cfg.RainInput, cfg.SkipHeaderLines)

	loaders := []pipeline.BatchLoader{
		fileadapter.NewWriter(cfg.OutputDir, cfg.OutputPrefix, cfg.OutputSuffix, cfg.OutputShards, logger),
	}
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Error("sink close error", "error", err)
			}
		}
	}()

	if cfg.SQLitePath != "" {
		store, err := sqliteadapter.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		closers = append(closers, store)
		loaders = append(loaders, store)
		logger.Info("sqlite sink enabled", "path", cfg.SQLitePath)
	}

	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		closers = append(closers, writer)
		loaders = append(loaders, writer)
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	p := pipeline.New(dengue, rain, loaders, logger, metrics, pipeline.Options{
		RainStrict: cfg.RainStrict,
	})

	if cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("job complete",
		"dengue_lines", summary.Dengue.Lines,
		"rain_lines", summary.Rain.Lines,
		"rows", summary.Join.Rows,
		"incomplete_keys", summary.Join.Incomplete,
		"duration", summary.Duration(),
	)
	return nil
}

// Command waterdata runs the retrieval service: it periodically fetches
// observations from the configured source, normalizes them, writes parquet
// datasets, and optionally publishes rows to Kafka. Health, readiness, and
// metrics endpoints are served over HTTP.
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
	"time"

	"github.com/couchcryptid/waterdata/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/waterdata/internal/adapter/kafka"
	"github.com/couchcryptid/waterdata/internal/config"
	"github.com/couchcryptid/waterdata/internal/normalize"
	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/pipeline"
	"github.com/couchcryptid/waterdata/internal/source"
	"github.com/couchcryptid/waterdata/internal/source/epa"
	"github.com/couchcryptid/waterdata/internal/source/mesonet"
	"github.com/couchcryptid/waterdata/internal/source/noaa"
	"github.com/couchcryptid/waterdata/internal/source/usgs"
	"github.com/couchcryptid/waterdata/internal/storage"
	"github.com/couchcryptid/waterdata/internal/table"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	fetcher, err := buildFetcher(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build fetcher", "error", err)
		os.Exit(1)
	}

	normalizer := pipeline.NewNormalizer(normalize.Options{
		Source:         cfg.Source,
		AttachGeometry: true,
	})
	storer := pipeline.NewParquetStorer(cfg.DataDir, metrics, storage.WithOverwrite())

	var publisher pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaSinkTopic, logger)
		publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	p := pipeline.New(fetcher, normalizer, storer, publisher,
		cfg.Dataset, cfg.FetchInterval, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := p.Run(ctx); err != nil {
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
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// buildFetcher wires the configured source client into a pipeline fetcher.
func buildFetcher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (pipeline.Fetcher, error) {
	window := func() (time.Time, time.Time) {
		end := time.Now().UTC()
		return end.Add(-cfg.Lookback), end
	}

	switch cfg.Source {
	case "usgs":
		client := usgs.New(usgs.Config{BaseURL: cfg.USGSBaseURL}, logger, metrics)
		return pipeline.FetcherFunc{
			SourceName: client.Name(),
			Func: func(ctx context.Context) (*table.Table, source.Report, error) {
				start, end := window()
				return client.GetInstantaneous(ctx, usgs.ObsQuery{
					Sites:         cfg.Sites,
					StateCode:     queryState(cfg),
					ParameterCode: cfg.ParameterCode,
					Start:         start,
					End:           end,
				})
			},
		}, nil
	case "epa":
		client := epa.New(epa.Config{BaseURL: cfg.EPABaseURL}, logger, metrics)
		return pipeline.FetcherFunc{
			SourceName: client.Name(),
			Func: func(ctx context.Context) (*table.Table, source.Report, error) {
				start, end := window()
				return client.GetResults(ctx, epa.Query{
					StateCode:      cfg.StateCode,
					Characteristic: cfg.ParameterCode,
					Start:          start,
					End:            end,
				})
			},
		}, nil
	case "noaa":
		client := noaa.New(noaa.Config{BaseURL: cfg.NOAABaseURL, Token: cfg.NOAAAPIToken}, logger, metrics)
		return pipeline.FetcherFunc{
			SourceName: client.Name(),
			Func: func(ctx context.Context) (*table.Table, source.Report, error) {
				start, end := window()
				return client.GetData(ctx, noaa.DataQuery{
					Dataset: cfg.NOAADataset,
					Start:   start,
					End:     end,
				})
			},
		}, nil
	case "mesonet":
		client := mesonet.New(mesonet.Config{BaseURL: cfg.MesonetBaseURL}, logger, metrics)
		return pipeline.FetcherFunc{
			SourceName: client.Name(),
			Func: func(ctx context.Context) (*table.Table, source.Report, error) {
				start, end := window()
				return client.GetObservations(ctx, mesonet.ObsQuery{
					Stations: cfg.Sites,
					Start:    start,
					End:      end,
				})
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// queryState returns the state code only when no explicit site list is set;
// NWIS rejects requests that mix the two filters.
func queryState(cfg *config.Config) string {
	if len(cfg.Sites) > 0 {
		return ""
	}
	return cfg.StateCode
}

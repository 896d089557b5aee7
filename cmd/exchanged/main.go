package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"nftswap/config"
	"nftswap/observability"
	"nftswap/observability/logging"
	telemetry "nftswap/observability/otel"
	"nftswap/services/exchanged/indexer"
)

func main() {
	var cfgPath string
	var logLevel string
	var exportPath, exportTrader, exportType string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to exchanged configuration")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	flag.StringVar(&exportPath, "export-activity", "", "write the activity index to this parquet file and exit")
	flag.StringVar(&exportTrader, "export-trader", "", "restrict the export to one trader address")
	flag.StringVar(&exportType, "export-type", "", "restrict the export to one event type")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service:    "exchanged",
		Env:        cfg.Environment,
		Level:      logging.ParseLevel(logLevel),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if exportPath != "" {
		filter := indexer.Filter{Type: exportType}
		if exportTrader != "" {
			filter.Trader = common.HexToAddress(exportTrader).Hex()
		}
		if err := exportActivity(ctx, cfg, exportPath, filter, logger); err != nil {
			logger.Error("export activity", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "exchanged",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	n, err := openNode(cfgPath, cfg, logger, nodeOptions{
		Registry: prometheus.DefaultRegisterer,
		Gatherer: prometheus.DefaultGatherer,
		Metrics:  observability.Exchange(),
	})
	if err != nil {
		logger.Error("open node", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Warn("close node", "error", err)
		}
	}()

	if err := serve(ctx, cfg.ListenAddress, n.server.Handler(), logger); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

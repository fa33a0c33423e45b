package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/internal/app"
	"github.com/joseph-ayodele/werkstatt-archive/internal/async"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/ingest"
	"github.com/joseph-ayodele/werkstatt-archive/internal/pipeline"
	"github.com/joseph-ayodele/werkstatt-archive/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("ARCHIVE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := app.NewLogger(cfg.LogLevel, false)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start archive", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.ImportRegistry(ctx); err != nil {
		logger.Error("registry import failed", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Archive.InputDir, 0o755); err != nil {
		logger.Error("failed to create input directory", "dir", cfg.Archive.InputDir, "error", err)
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer, monitor := server.NewGRPCServer(a.DB, 30*time.Second, logger)
	go monitor.Run(ctx)

	queue := async.NewProcessorQueue(a.Processor, logger,
		async.WithWorkers(cfg.Worker.Workers),
		async.WithQueueSize(cfg.Worker.QueueSize),
		async.WithProcessTimeout(cfg.Extract.Timeout+time.Minute),
		async.WithResultHook(func(job async.Job, res pipeline.Result, err error) {
			if err == nil && res.Disposition == pipeline.Pending {
				logger.Info("legacy document needs manual resolution",
					"trace_id", job.TraceID, "pending_id", res.PendingID, "reason", res.Reason)
			}
		}),
	)

	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{cfg.Archive.InputDir},
		Exclude:     a.OutputDirs(),
		InitialScan: true,
		Debounce:    cfg.Worker.Debounce,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}
	go func() {
		for err := range errs {
			logger.Warn("watcher error", "error", err)
		}
	}()
	go ingest.Feed(ctx, events, queue, logger)

	logger.Info("werkstatt archive listening", "addr", cfg.Server.GRPCAddr, "input", cfg.Archive.InputDir, "root", cfg.Archive.RootDir)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Extract.Timeout+time.Minute)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
}

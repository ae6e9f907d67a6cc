// Package main runs the filealloc HTTP API. With the memory backend it also
// processes uploads in-process; with the minio backend jobs go to Redis and
// are executed by cmd/worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/api"
	"github.com/dharsanguruparan/filealloc/internal/app"
	"github.com/dharsanguruparan/filealloc/internal/config"
	"github.com/dharsanguruparan/filealloc/internal/files"
	"github.com/dharsanguruparan/filealloc/internal/processing"
	"github.com/dharsanguruparan/filealloc/internal/queue"
	"github.com/dharsanguruparan/filealloc/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := app.NewLogger(cfg, os.Stderr)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init file managers")
	}
	defer a.Close()

	var q files.Queue
	switch cfg.StoreBackend {
	case config.BackendMemory:
		pool := processing.New(worker.NewProcessor(a.Managers, logger).HandleJob, cfg.ProcessingPool, logger)
		pool.Start(ctx)
		defer pool.Wait()
		q = pool
	default:
		client := queue.NewClient(queue.RedisOpt(cfg))
		defer client.Close()
		q = client
	}

	receiver := files.NewReceiver(a.Managers, q, logger)
	srv := api.New(cfg.Address, a.Managers, receiver, a.Blobs, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

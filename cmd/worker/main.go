package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/app"
	"github.com/dharsanguruparan/filealloc/internal/config"
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
	if cfg.StoreBackend != config.BackendMinio {
		logger.Fatal().Str("backend", cfg.StoreBackend).Msg("the worker needs the minio backend; the memory backend processes jobs inside cmd/server")
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init file managers")
	}
	defer a.Close()

	redisOpt := queue.RedisOpt(cfg)
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   asynqLogger{logger.With().Str("component", "scheduler").Logger()},
		LogLevel: asynq.WarnLevel,
	})
	if err := queue.RegisterSchedules(scheduler, cfg); err != nil {
		logger.Fatal().Err(err).Msg("register schedules")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      asynqLogger{logger.With().Str("component", "asynq").Logger()},
		LogLevel:    asynq.WarnLevel,
	})
	processor := worker.NewProcessor(a.Managers, logger)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		server.Shutdown()
	}()

	logger.Info().Strs("buckets", a.Managers.Buckets()).Int("concurrency", cfg.ProcessingPool).Msg("worker started")
	if err := server.Run(mux); err != nil {
		logger.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	zl zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.zl.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.zl.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.zl.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.zl.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.zl.Fatal().Msg(fmt.Sprint(args...)) }

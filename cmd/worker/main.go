// Package main runs the pipeline worker that drains the Redis run queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/clueso-studio/backend/config"
	"github.com/clueso-studio/backend/internal/app"
	"github.com/clueso-studio/backend/internal/jobs"
	"github.com/clueso-studio/backend/internal/realtime"
	"github.com/clueso-studio/backend/internal/worker"
	"github.com/clueso-studio/backend/pkg/database"
	"github.com/clueso-studio/backend/pkg/queue"
	"github.com/clueso-studio/backend/pkg/redis"
)

func main() {
	logger := app.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := app.NewStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}

	// Status events go through Redis so every API node can forward them.
	events := realtime.NewRedisPubSub(rdb.Client, logger)
	pl := app.NewPipeline(cfg, jobs.NewRepository(pool), s3Client, events, logger)
	runPool := app.NewPool(cfg, pl.Orchestrator, logger)
	runPool.Start()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	consumer := worker.NewPipelineConsumer(jobQueue, runPool, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(workerCtx)
	}()
	logger.Info("worker started",
		zap.Int("workers", cfg.Pipeline.MaxConcurrentJobs),
		zap.String("queue", queue.QueuePipeline),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done

	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownGrace)
	defer graceCancel()
	if err := runPool.Shutdown(graceCtx); err != nil {
		logger.Warn("pipeline shutdown", zap.Error(err))
	}
	logger.Info("worker stopped")
}

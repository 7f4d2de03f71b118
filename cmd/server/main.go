// Package main runs the video pipeline HTTP API with WebSocket job updates and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/config"
	"github.com/clueso-studio/backend/internal/app"
	"github.com/clueso-studio/backend/internal/auth"
	"github.com/clueso-studio/backend/internal/jobs"
	"github.com/clueso-studio/backend/internal/lifecycle"
	"github.com/clueso-studio/backend/internal/middleware"
	"github.com/clueso-studio/backend/internal/pipeline"
	"github.com/clueso-studio/backend/internal/projects"
	"github.com/clueso-studio/backend/internal/realtime"
	"github.com/clueso-studio/backend/internal/uploads"
	"github.com/clueso-studio/backend/pkg/database"
	"github.com/clueso-studio/backend/pkg/queue"
	"github.com/clueso-studio/backend/pkg/redis"
	"github.com/clueso-studio/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		if cfg.Pipeline.DispatchMode == config.DispatchRedis {
			logger.Fatal("redis", zap.Error(err))
		}
		logger.Warn("redis unavailable, job events stay in-process", zap.Error(err))
	} else {
		defer rdb.Close()
	}

	s3Client, err := app.NewStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	var hub *realtime.Hub
	if rdb != nil {
		bus := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, bus, bus)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Uploads
	uploadRepo := uploads.NewRepository(pool)
	uploadHandler := uploads.NewHandler(uploadRepo, uploadRepo, s3Client, cfg.Server.FrontendURL, logger)

	// Pipeline
	jobRepo := jobs.NewRepository(pool)

	// Projects
	projectHandler := projects.NewHandler(projects.NewRepository(pool), uploadRepo, jobRepo, s3Client, logger)
	pl := app.NewPipeline(cfg, jobRepo, s3Client, hub, logger)

	// The pool bounds manual stage runs in both modes; in local mode it also runs dispatched jobs.
	runPool := app.NewPool(cfg, pl.Orchestrator, logger)
	var dispatcher lifecycle.Dispatcher = runPool
	switch cfg.Pipeline.DispatchMode {
	case config.DispatchRedis:
		dispatcher = queue.NewQueue(rdb.Client, logger)
		logger.Info("jobs dispatched to redis queue", zap.String("queue", queue.QueuePipeline))
	default:
		runPool.Start()
		logger.Info("jobs run in-process",
			zap.Int("workers", cfg.Pipeline.MaxConcurrentJobs),
			zap.Int("queue_capacity", cfg.Pipeline.QueueCapacity),
		)
	}

	svc := lifecycle.NewService(lifecycle.Options{
		Jobs:       jobRepo,
		Uploads:    uploadRepo,
		Dispatcher: dispatcher,
		Stages:     pipeline.PooledStages{Orchestrator: pl.Orchestrator, Pool: runPool},
		Artifacts:  s3Client,
		Logger:     logger.Named("lifecycle"),
	})
	jobHandler := lifecycle.NewHandler(svc, pl.LLM, runPool, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Share links (public)
	uploadHandler.RegisterPublicRoutes(router.Group(""))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)
		api.GET("/users", middleware.RequireAdmin(logger), authHandler.List)
		uploadHandler.RegisterRoutes(api)
		projectHandler.RegisterRoutes(api)
		jobHandler.RegisterRoutes(api)
	}

	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireAdmin(logger))
	jobHandler.RegisterAdminRoutes(admin)

	// WebSocket (token in query or Authorization header)
	router.GET("/ws", realtime.ServeWs(hub, jwtService, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownGrace)
	defer graceCancel()
	if err := runPool.Shutdown(graceCtx); err != nil {
		logger.Warn("pipeline shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

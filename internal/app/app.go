// Package app assembles the pipeline from configuration for the binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clueso-studio/backend/config"
	"github.com/clueso-studio/backend/internal/jobs"
	"github.com/clueso-studio/backend/internal/ollama"
	"github.com/clueso-studio/backend/internal/pipeline"
	"github.com/clueso-studio/backend/internal/stages"
	"github.com/clueso-studio/backend/internal/toolrunner"
	"github.com/clueso-studio/backend/pkg/storage"
)

// NewLogger builds the production JSON logger used by the server and worker.
func NewLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := cfg.Build()
	return logger
}

// NewConsoleLogger builds a human-readable logger for the CLI.
func NewConsoleLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, _ := cfg.Build()
	return logger
}

// NewStorage connects to the artifacts bucket.
func NewStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.S3, error) {
	s3, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Bucket:               cfg.AWS.ArtifactsBucket,
		Endpoint:             cfg.AWS.Endpoint,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	return s3, nil
}

// NewLLM creates the Ollama client.
func NewLLM(cfg *config.Config, logger *zap.Logger) *ollama.Client {
	return ollama.NewClient(ollama.Config{
		BaseURL: cfg.LLM.OllamaURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, logger.Named("ollama"))
}

// StageDeps returns the shared dependencies of the stage workers.
func StageDeps(cfg *config.Config, store stages.ArtifactStore, logger *zap.Logger) stages.Deps {
	return stages.Deps{
		Store:   store,
		Runner:  toolrunner.NewExecRunner(logger.Named("tools")),
		Tools:   cfg.Tools,
		TempDir: cfg.Pipeline.TempDir,
		Logger:  logger,
	}
}

// Pipeline is the assembled orchestrator plus the workers it drives.
type Pipeline struct {
	Orchestrator *pipeline.Orchestrator
	Transcriber  *stages.Transcriber
	LLM          *ollama.Client
}

// NewPipeline wires the five stage workers into an orchestrator. events may be nil.
func NewPipeline(cfg *config.Config, store jobs.Store, artifacts stages.ArtifactStore, events pipeline.EventPublisher, logger *zap.Logger) *Pipeline {
	deps := StageDeps(cfg, artifacts, logger)
	llm := NewLLM(cfg, logger)
	transcriber := stages.NewTranscriber(deps)
	orch := pipeline.NewOrchestrator(pipeline.Options{
		Jobs:           store,
		Artifacts:      artifacts,
		Audio:          stages.NewAudioExtractor(deps),
		Transcription:  transcriber,
		Script:         stages.NewScriptImprover(deps, llm, cfg.Pipeline.ScriptBatchSize),
		Voice:          stages.NewVoiceGenerator(deps),
		Render:         stages.NewRenderer(deps),
		Events:         events,
		ImproveScripts: cfg.Pipeline.EnableScriptImprovement,
		Logger:         logger.Named("pipeline"),
	})
	return &Pipeline{Orchestrator: orch, Transcriber: transcriber, LLM: llm}
}

// NewPool creates the bounded pool that runs the orchestrator. Call Start on it.
func NewPool(cfg *config.Config, orch *pipeline.Orchestrator, logger *zap.Logger) *pipeline.Pool {
	return pipeline.NewPool(orch.Run, cfg.Pipeline.MaxConcurrentJobs, cfg.Pipeline.QueueCapacity, logger.Named("pool"))
}

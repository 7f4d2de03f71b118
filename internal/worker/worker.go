// Package worker moves queued pipeline requests from Redis into the local pipeline pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/pipeline"
	"github.com/clueso-studio/backend/pkg/queue"
)

// Source is the queue the consumer reads from.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Admitter accepts a job for execution without waiting for it.
type Admitter interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) error
}

// PipelineConsumer admits queued pipeline runs into a bounded pool.
type PipelineConsumer struct {
	source  Source
	pool    Admitter
	backoff time.Duration
	logger  *zap.Logger
}

// NewPipelineConsumer creates a consumer.
func NewPipelineConsumer(source Source, pool Admitter, logger *zap.Logger) *PipelineConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineConsumer{source: source, pool: pool, backoff: queue.RetryBackoff, logger: logger}
}

// Process admits one envelope. A job already queued or running locally is dropped.
func (p *PipelineConsumer) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.PipelinePayload()
	if err != nil {
		return err
	}
	err = p.pool.Dispatch(ctx, payload.JobID)
	if errors.Is(err, pipeline.ErrAlreadyQueued) {
		p.logger.Info("job already admitted, dropping duplicate", zap.String("job_id", payload.JobID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("admit %s: %w", payload.JobID, err)
	}
	p.logger.Debug("job admitted", zap.String("job_id", payload.JobID.String()), zap.Int("attempt", job.Attempt))
	return nil
}

// Run starts the consumer loop: dequeue, admit, retry on error.
func (p *PipelineConsumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline consumer stopping")
			return
		default:
		}

		job, _, err := p.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("admit failed", zap.String("envelope_id", job.ID), zap.Error(err))
			if reErr := p.source.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *PipelineConsumer) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueuePipeline is the Redis list key for pipeline run requests.
	QueuePipeline = "worker:pipeline"
	// QueueDLQ is the dead-letter queue for requests that could not be admitted after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a request before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the envelope kind.
type JobType string

const (
	JobTypePipelineRun JobType = "pipeline_run"
)

// PipelinePayload names the job record to drive through the pipeline.
type PipelinePayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// Job is a generic queue envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// PipelinePayload decodes the envelope payload.
func (j *Job) PipelinePayload() (PipelinePayload, error) {
	var p PipelinePayload
	if j.Type != JobTypePipelineRun {
		return p, fmt.Errorf("unexpected job type %q", j.Type)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("decode pipeline payload: %w", err)
	}
	if p.JobID == uuid.Nil {
		return p, errors.New("pipeline payload missing job_id")
	}
	return p, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.UniversalClient, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// NewPipelineJob builds the envelope for a pipeline run.
func NewPipelineJob(payload PipelinePayload) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      JobTypePipelineRun,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}, nil
}

// EnqueuePipeline enqueues a pipeline run for a job record.
func (q *Queue) EnqueuePipeline(ctx context.Context, payload PipelinePayload) error {
	job, err := NewPipelineJob(payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueuePipeline, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued pipeline run", zap.String("envelope_id", job.ID), zap.String("job_id", payload.JobID.String()))
	return nil
}

// Dispatch hands a job to the worker fleet.
func (q *Queue) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	return q.EnqueuePipeline(ctx, PipelinePayload{JobID: jobID})
}

// Dequeue blocks until a job is available or ctx is done. Returns job and key (queue name).
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueuePipeline).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("envelope_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("envelope_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueuePipeline, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("envelope_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

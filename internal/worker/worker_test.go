package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clueso-studio/backend/internal/pipeline"
	"github.com/clueso-studio/backend/pkg/queue"
)

type chanSource struct {
	jobs    chan *queue.Job
	mu      sync.Mutex
	retried []*queue.Job
}

func (s *chanSource) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case j := <-s.jobs:
		return j, queue.QueuePipeline, nil
	}
}

func (s *chanSource) Retry(_ context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Attempt++
	s.retried = append(s.retried, job)
	return nil
}

func (s *chanSource) retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retried)
}

type scriptedPool struct {
	mu       sync.Mutex
	admitted []uuid.UUID
	errs     map[uuid.UUID]error
}

func (p *scriptedPool) Dispatch(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[id]; err != nil {
		return err
	}
	p.admitted = append(p.admitted, id)
	return nil
}

func (p *scriptedPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.admitted)
}

func envelope(t *testing.T, id uuid.UUID) *queue.Job {
	t.Helper()
	j, err := queue.NewPipelineJob(queue.PipelinePayload{JobID: id})
	require.NoError(t, err)
	return j
}

func TestProcess(t *testing.T) {
	dup := uuid.New()
	full := uuid.New()
	pool := &scriptedPool{errs: map[uuid.UUID]error{
		dup:  pipeline.ErrAlreadyQueued,
		full: pipeline.ErrQueueFull,
	}}
	c := NewPipelineConsumer(&chanSource{}, pool, zaptest.NewLogger(t))
	ctx := context.Background()

	ok := uuid.New()
	require.NoError(t, c.Process(ctx, envelope(t, ok)))
	assert.Equal(t, []uuid.UUID{ok}, pool.admitted)

	assert.NoError(t, c.Process(ctx, envelope(t, dup)))
	assert.ErrorIs(t, c.Process(ctx, envelope(t, full)), pipeline.ErrQueueFull)

	bad := &queue.Job{ID: "x", Type: "other"}
	assert.Error(t, c.Process(ctx, bad))
}

func TestRunAdmitsAndRetries(t *testing.T) {
	full := uuid.New()
	src := &chanSource{jobs: make(chan *queue.Job, 4)}
	pool := &scriptedPool{errs: map[uuid.UUID]error{full: errors.New("pool saturated")}}
	c := NewPipelineConsumer(src, pool, zaptest.NewLogger(t))
	c.backoff = time.Millisecond

	src.jobs <- envelope(t, uuid.New())
	src.jobs <- envelope(t, full)
	src.jobs <- envelope(t, uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pool.count() == 2 && src.retries() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 1, src.retried[0].Attempt)
}

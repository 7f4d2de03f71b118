package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQueueFull     = errors.New("pipeline queue is full")
	ErrPoolClosed    = errors.New("pipeline pool is shut down")
	ErrAlreadyQueued = errors.New("job is already queued or running")
)

// RunFunc processes one job.
type RunFunc func(ctx context.Context, jobID uuid.UUID) error

type entry struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Pool runs jobs on a fixed number of workers with a bounded backlog.
// Each admitted job gets its own cancelable context.
type Pool struct {
	run     RunFunc
	workers int
	queue   chan uuid.UUID
	slots   chan struct{}
	logger  *zap.Logger

	base       context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	entries map[uuid.UUID]entry
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewPool creates a pool. Call Start to begin processing.
func NewPool(run RunFunc, workers, capacity int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pool{
		run:        run,
		workers:    workers,
		queue:      make(chan uuid.UUID, capacity),
		slots:      make(chan struct{}, workers),
		logger:     logger,
		base:       base,
		cancelBase: cancel,
		entries:    make(map[uuid.UUID]entry),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("pipeline pool started", zap.Int("workers", p.workers), zap.Int("capacity", cap(p.queue)))
}

// Dispatch admits jobID without waiting for it to run.
func (p *Pool) Dispatch(_ context.Context, jobID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.entries[jobID]; ok {
		return ErrAlreadyQueued
	}
	ctx, cancel := context.WithCancel(p.base)
	select {
	case p.queue <- jobID:
		p.entries[jobID] = entry{ctx: ctx, cancel: cancel}
		return nil
	default:
		cancel()
		return ErrQueueFull
	}
}

// Do runs fn for jobID synchronously on one of the pool's slots, so manual
// stage runs share the concurrency limit with dispatched jobs. ctx bounds
// only the wait for a slot: fn gets a context detached from the caller that
// ends on Cancel or Shutdown. Do does not need Start.
func (p *Pool) Do(ctx context.Context, jobID uuid.UUID, fn func(context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if _, ok := p.entries[jobID]; ok {
		p.mu.Unlock()
		return ErrAlreadyQueued
	}
	runCtx, cancel := context.WithCancel(p.base)
	p.entries[jobID] = entry{ctx: runCtx, cancel: cancel}
	p.wg.Add(1)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.entries, jobID)
		p.mu.Unlock()
		cancel()
		p.wg.Done()
	}()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-runCtx.Done():
		return runCtx.Err()
	}
	defer func() { <-p.slots }()
	return fn(runCtx)
}

// Cancel stops a queued or running job. It reports whether the job was known.
func (p *Pool) Cancel(jobID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[jobID]
	if ok {
		e.cancel()
		p.logger.Info("job cancel requested", zap.String("job_id", jobID.String()))
	}
	return ok
}

// Shutdown stops admitting jobs and waits for running ones. When ctx ends
// first, running jobs are canceled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancelBase()
		return nil
	case <-ctx.Done():
		p.cancelBase()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for id := range p.queue {
		p.execute(id)
	}
}

func (p *Pool) execute(jobID uuid.UUID) {
	p.mu.Lock()
	e := p.entries[jobID]
	p.mu.Unlock()
	log := p.logger.With(zap.String("job_id", jobID.String()))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline run panicked", zap.Any("panic", r))
		}
		p.mu.Lock()
		delete(p.entries, jobID)
		p.mu.Unlock()
		e.cancel()
	}()

	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-e.ctx.Done():
	}
	if err := e.ctx.Err(); err != nil {
		log.Info("job canceled before start")
		return
	}
	if err := p.run(e.ctx, jobID); err != nil {
		log.Warn("pipeline run failed", zap.Error(err))
	}
}

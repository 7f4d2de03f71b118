package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clueso-studio/backend/internal/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyExists     = errors.New("job already exists")
	ErrConflict          = errors.New("job status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the single authoritative home of Job Records.
//
// CompareAndSwap writes next only when the stored status still equals
// expected. Inputs, identity and createdAt are never changed by a swap, and an
// artifact key (with its render metadata) already present is kept over the
// incoming value.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Put(ctx context.Context, job *models.Job) error
	CompareAndSwap(ctx context.Context, expected models.JobStatus, next *models.Job) (bool, error)
}

// Lister is implemented by stores that can enumerate a user's jobs.
type Lister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error)
}

// Merge applies next onto current following the write-once rules of Store.
func Merge(current, next *models.Job) *models.Job {
	out := current.Clone()
	out.Status = next.Status
	out.UpdatedAt = next.UpdatedAt
	keepFirst(&out.AudioKey, next.AudioKey)
	keepFirst(&out.TranscriptKey, next.TranscriptKey)
	keepFirst(&out.ImprovedScriptKey, next.ImprovedScriptKey)
	keepFirst(&out.VoiceKey, next.VoiceKey)
	if out.FinalVideoKey == "" && next.FinalVideoKey != "" {
		out.FinalVideoKey = next.FinalVideoKey
		out.DurationSeconds = next.DurationSeconds
		out.Resolution = next.Resolution
		out.FPS = next.FPS
	}
	out.ErrorMessage = ""
	if next.Status == models.JobFailed {
		out.ErrorMessage = next.ErrorMessage
	}
	return out
}

func keepFirst(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Advance moves job to status through store, applying mutate to the pending
// record first. On success *job reflects what was stored.
func Advance(ctx context.Context, store Store, job *models.Job, status models.JobStatus, mutate func(*models.Job), now time.Time) error {
	if !models.CanTransition(job.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}
	next := job.Clone()
	next.Status = status
	if mutate != nil {
		mutate(next)
	}
	next.UpdatedAt = now
	ok, err := store.CompareAndSwap(ctx, job.Status, next)
	if err != nil {
		return fmt.Errorf("advance %s to %s: %w", job.ID, status, err)
	}
	if !ok {
		return fmt.Errorf("advance %s to %s: %w", job.ID, status, ErrConflict)
	}
	*job = *Merge(job, next)
	return nil
}

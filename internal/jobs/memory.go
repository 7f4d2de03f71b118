package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/clueso-studio/backend/internal/models"
)

// MemoryStore is a Store kept in process memory. Used by tests and the CLI.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.Job
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, expected models.JobStatus, next *models.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[next.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Status != expected {
		return false, nil
	}
	s.jobs[next.ID] = Merge(cur, next)
	return true, nil
}

// ListByUser returns the user's jobs, newest first.
func (s *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.UserID == userID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) LatestByProject(_ context.Context, userID uuid.UUID, projectID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Job
	for _, j := range s.jobs {
		if j.UserID != userID || j.ProjectID != projectID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

// Package lifecycle is the boundary the HTTP layer uses to create jobs,
// re-drive single stages and read job state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/jobs"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/stages"
	"github.com/clueso-studio/backend/internal/transcript"
	"github.com/clueso-studio/backend/internal/uploads"
	"github.com/clueso-studio/backend/pkg/storage"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("job belongs to another user")
	ErrUploadNotReady   = errors.New("upload is not complete")
	ErrInvalidStatus    = errors.New("job is not in the required status")
	ErrArtifactNotReady = errors.New("artifact not available yet")
	ErrUnknownArtifact  = errors.New("unknown artifact")
)

// StatusError reports a manual trigger against the wrong predecessor status.
type StatusError struct {
	Stage    models.Stage
	Required models.JobStatus
	Actual   models.JobStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s requires status %s, job is %s", e.Stage, e.Required, e.Actual)
}

func (e *StatusError) Unwrap() error { return ErrInvalidStatus }

// JobStore is the Job Record store with per-user listing.
type JobStore interface {
	jobs.Store
	jobs.Lister
}

// UploadLookup finds upload records.
type UploadLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
}

// Dispatcher hands a created job to the pipeline without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) error
}

// StageRunner runs one stage of a job synchronously. ctx may end when the
// caller goes away; implementations keep the stage itself running.
type StageRunner interface {
	RunStage(ctx context.Context, job *models.Job, stage models.Stage) error
}

// ArtifactReader reads artifacts and signs download links.
type ArtifactReader interface {
	stages.ArtifactStore
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// Options wires a Service.
type Options struct {
	Jobs       JobStore
	Uploads    UploadLookup
	Dispatcher Dispatcher
	Stages     StageRunner
	Artifacts  ArtifactReader
	Logger     *zap.Logger
	Now        func() time.Time
}

// Service implements the Job Lifecycle operations.
type Service struct {
	jobs       JobStore
	uploads    UploadLookup
	dispatcher Dispatcher
	stages     StageRunner
	artifacts  ArtifactReader
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a lifecycle service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		jobs:       opts.Jobs,
		uploads:    opts.Uploads,
		dispatcher: opts.Dispatcher,
		stages:     opts.Stages,
		artifacts:  opts.Artifacts,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// CreateJob turns a completed upload owned by userID into an UPLOADED job and
// starts the pipeline. A dispatch failure leaves the job UPLOADED and is only
// logged; the stage triggers can still drive it.
func (s *Service) CreateJob(ctx context.Context, uploadID, userID uuid.UUID, projectID string) (*models.Job, error) {
	up, err := s.uploads.GetByID(ctx, uploadID)
	if errors.Is(err, uploads.ErrNotFound) {
		return nil, fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load upload: %w", err)
	}
	if up.UserID != userID {
		return nil, fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
	}
	if up.Status != models.UploadCompleted {
		return nil, fmt.Errorf("upload %s is %s: %w", uploadID, up.Status, ErrUploadNotReady)
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:            uuid.New(),
		UserID:        userID,
		ProjectID:     projectID,
		InputUploadID: up.ID,
		InputVideoKey: up.FileKey,
		Status:        models.JobUploaded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.jobs.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log := s.logger.With(zap.String("job_id", job.ID.String()), zap.String("user_id", userID.String()))
	log.Info("job created", zap.String("upload_id", uploadID.String()))

	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), job.ID); err != nil {
		log.Error("dispatch pipeline", zap.Error(err))
	}
	return job, nil
}

// GetJob returns the job when userID owns it. Another user's job is reported as not found.
func (s *Service) GetJob(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}

// ListJobs returns userID's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID uuid.UUID) ([]*models.Job, error) {
	return s.jobs.ListByUser(ctx, userID)
}

// TriggerStage runs stage for the caller's job, which must be in the stage's exact predecessor status.
func (s *Service) TriggerStage(ctx context.Context, stage models.Stage, jobID, userID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrForbidden
	}
	if required := stage.RequiredStatus(); job.Status != required {
		return nil, &StatusError{Stage: stage, Required: required, Actual: job.Status}
	}
	if err := s.stages.RunStage(ctx, job, stage); err != nil {
		return nil, err
	}
	return job, nil
}

// TranscriptView is the transcript plus a summary of its document.
type TranscriptView struct {
	Transcript string             `json:"transcript"`
	Metadata   TranscriptMetadata `json:"metadata"`
}

// TranscriptMetadata summarizes a transcript document.
type TranscriptMetadata struct {
	Language    string    `json:"language"`
	Length      int       `json:"length"`
	WordCount   int       `json:"wordCount"`
	GeneratedAt time.Time `json:"generatedAt,omitempty"`
}

// GetTranscript returns the job and, once usable, its transcript.
// ErrArtifactNotReady means the transcript is missing, too short or not stored yet.
func (s *Service) GetTranscript(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, *TranscriptView, error) {
	job, err := s.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, nil, err
	}
	if job.TranscriptKey == "" {
		return job, nil, ErrArtifactNotReady
	}
	doc, err := stages.LoadTranscript(ctx, s.artifacts, job.TranscriptKey)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, transcript.ErrEmptyDocument) {
		return job, nil, ErrArtifactNotReady
	}
	if err != nil {
		return job, nil, fmt.Errorf("load transcript: %w", err)
	}
	if doc.Length < transcript.MinLength {
		return job, nil, ErrArtifactNotReady
	}
	return job, &TranscriptView{
		Transcript: doc.Text,
		Metadata: TranscriptMetadata{
			Language:    doc.Language,
			Length:      doc.Length,
			WordCount:   doc.WordCount,
			GeneratedAt: doc.GeneratedAt,
		},
	}, nil
}

// Artifact names accepted by ArtifactURL.
const (
	ArtifactAudio      = "audio"
	ArtifactTranscript = "transcript"
	ArtifactScript     = "script"
	ArtifactVoice      = "voice"
	ArtifactVideo      = "video"
)

func artifactKey(job *models.Job, artifact string) (string, bool) {
	switch artifact {
	case ArtifactAudio:
		return job.AudioKey, true
	case ArtifactTranscript:
		return job.TranscriptKey, true
	case ArtifactScript:
		return job.ImprovedScriptKey, true
	case ArtifactVoice:
		return job.VoiceKey, true
	case ArtifactVideo:
		return job.FinalVideoKey, true
	}
	return "", false
}

// ArtifactLink is a time-limited download link.
type ArtifactLink struct {
	Artifact  string `json:"artifact"`
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// ArtifactURL signs a download link for one of the job's populated artifacts.
func (s *Service) ArtifactURL(ctx context.Context, jobID, userID uuid.UUID, artifact string) (*ArtifactLink, error) {
	job, err := s.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	key, ok := artifactKey(job, artifact)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownArtifact, artifact)
	}
	if key == "" {
		return nil, ErrArtifactNotReady
	}
	expires := s.artifacts.PresignExpire()
	url, err := s.artifacts.GeneratePresignedDownloadURL(ctx, key, expires)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", artifact, err)
	}
	return &ArtifactLink{Artifact: artifact, Key: key, URL: url, ExpiresIn: int(expires.Seconds())}, nil
}

package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clueso-studio/backend/internal/models"
)

const jobColumns = `id, user_id, project_id, input_upload_id, input_video_key, status,
	COALESCE(audio_key,''), COALESCE(transcript_key,''), COALESCE(improved_script_key,''),
	COALESCE(voice_key,''), COALESCE(final_video_key,''),
	COALESCE(duration_seconds,0), COALESCE(resolution,''), COALESCE(fps,0),
	COALESCE(error_message,''), created_at, updated_at`

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a job repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var status string
	err := row.Scan(&j.ID, &j.UserID, &j.ProjectID, &j.InputUploadID, &j.InputVideoKey, &status,
		&j.AudioKey, &j.TranscriptKey, &j.ImprovedScriptKey, &j.VoiceKey, &j.FinalVideoKey,
		&j.DurationSeconds, &j.Resolution, &j.FPS, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	return &j, nil
}

// Get returns a job by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Put inserts a new job record.
func (r *Repository) Put(ctx context.Context, job *models.Job) error {
	const q = `INSERT INTO jobs (id, user_id, project_id, input_upload_id, input_video_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, q, job.ID, job.UserID, job.ProjectID, job.InputUploadID, job.InputVideoKey,
		string(job.Status), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// CompareAndSwap updates the record only while its status is still expected.
func (r *Repository) CompareAndSwap(ctx context.Context, expected models.JobStatus, next *models.Job) (bool, error) {
	const q = `UPDATE jobs SET
		status = $3,
		audio_key = COALESCE(audio_key, NULLIF($4,'')),
		transcript_key = COALESCE(transcript_key, NULLIF($5,'')),
		improved_script_key = COALESCE(improved_script_key, NULLIF($6,'')),
		voice_key = COALESCE(voice_key, NULLIF($7,'')),
		duration_seconds = CASE WHEN final_video_key IS NULL AND $8 <> '' THEN $9 ELSE duration_seconds END,
		resolution = CASE WHEN final_video_key IS NULL AND $8 <> '' THEN $10 ELSE resolution END,
		fps = CASE WHEN final_video_key IS NULL AND $8 <> '' THEN $11 ELSE fps END,
		final_video_key = COALESCE(final_video_key, NULLIF($8,'')),
		error_message = CASE WHEN $3 = 'FAILED' THEN NULLIF($12,'') ELSE NULL END,
		updated_at = $13
		WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, next.ID, string(expected), string(next.Status),
		next.AudioKey, next.TranscriptKey, next.ImprovedScriptKey, next.VoiceKey, next.FinalVideoKey,
		next.DurationSeconds, next.Resolution, next.FPS, next.ErrorMessage, next.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, next.ID); err != nil {
		return false, err
	}
	return false, nil
}

// ListByUser returns the user's jobs, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// LatestByProject returns the newest job the user started for a project.
func (r *Repository) LatestByProject(ctx context.Context, userID uuid.UUID, projectID string) (*models.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 AND project_id = $2 ORDER BY created_at DESC LIMIT 1`
	j, err := scanJob(r.pool.QueryRow(ctx, q, userID, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest project job: %w", err)
	}
	return j, nil
}

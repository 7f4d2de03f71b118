package uploads

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

var (
	ErrNotFound      = errors.New("upload not found")
	ErrShareNotFound = errors.New("share link not found")
	ErrAlreadyExists = errors.New("upload already exists")
)

const uploadColumns = `id, user_id, file_key, file_name, file_type, file_size, status, created_at, updated_at`

// Repository handles upload persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an upload repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUpload(row pgx.Row) (*models.Upload, error) {
	var u models.Upload
	var status string
	err := row.Scan(&u.ID, &u.UserID, &u.FileKey, &u.FileName, &u.FileType, &u.FileSize, &status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Status = models.UploadStatus(status)
	return &u, nil
}

// Create inserts a pending upload and fills its timestamps.
func (r *Repository) Create(ctx context.Context, u *models.Upload) error {
	const q = `INSERT INTO uploads (id, user_id, file_key, file_name, file_type, file_size, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, u.ID, u.UserID, u.FileKey, u.FileName, u.FileType, u.FileSize, string(u.Status)).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// GetByID returns an upload or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	return scanUpload(r.pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
}

// MarkCompleted records the stored size and flips the upload to COMPLETED.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, size int64) (*models.Upload, error) {
	const q = `UPDATE uploads SET status = $2, file_size = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + uploadColumns
	return scanUpload(r.pool.QueryRow(ctx, q, id, string(models.UploadCompleted), size))
}

// ListByUser returns the user's uploads, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Upload, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()
	var list []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// CreateShare stores a share link and fills its creation time.
func (r *Repository) CreateShare(ctx context.Context, s *models.Share) error {
	const q = `INSERT INTO shares (token, upload_id, owner_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	if err := r.pool.QueryRow(ctx, q, s.Token, s.UploadID, s.OwnerID, s.ExpiresAt).Scan(&s.CreatedAt); err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

// GetShare returns a share link by token or ErrShareNotFound.
func (r *Repository) GetShare(ctx context.Context, token string) (*models.Share, error) {
	const q = `SELECT token, upload_id, owner_id, expires_at, created_at FROM shares WHERE token = $1`
	var s models.Share
	err := r.pool.QueryRow(ctx, q, token).Scan(&s.Token, &s.UploadID, &s.OwnerID, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	return &s, nil
}

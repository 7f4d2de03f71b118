package models

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus tracks a presigned upload.
type UploadStatus string

const (
	UploadPending   UploadStatus = "PENDING"
	UploadCompleted UploadStatus = "COMPLETED"
	UploadFailed    UploadStatus = "FAILED"
)

// Upload is a source video stored in the artifacts bucket.
type Upload struct {
	ID        uuid.UUID    `json:"id"`
	UserID    uuid.UUID    `json:"user_id"`
	FileKey   string       `json:"file_key"`
	FileName  string       `json:"file_name"`
	FileType  string       `json:"file_type"`
	FileSize  int64        `json:"file_size"`
	Status    UploadStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is a user's named workspace around one uploaded video.
type Project struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	UploadID  uuid.UUID `json:"upload_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Share is a public link to an upload. A nil ExpiresAt never expires.
type Share struct {
	Token     string     `json:"token"`
	UploadID  uuid.UUID  `json:"upload_id"`
	OwnerID   uuid.UUID  `json:"owner_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the link is past its expiry at now.
func (s *Share) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

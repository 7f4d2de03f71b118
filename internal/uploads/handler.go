// Package uploads issues presigned upload URLs for source videos, confirms
// them once the object is in the bucket, and hands out download and share
// links for finished uploads.
package uploads

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/middleware"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/pkg/response"
	"github.com/clueso-studio/backend/pkg/storage"
)

// Store persists upload records.
type Store interface {
	Create(ctx context.Context, u *models.Upload) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, size int64) (*models.Upload, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Upload, error)
}

// ShareStore persists public share links.
type ShareStore interface {
	CreateShare(ctx context.Context, s *models.Share) error
	GetShare(ctx context.Context, token string) (*models.Share, error)
}

// ObjectStore is the part of the artifact bucket the upload flow needs.
type ObjectStore interface {
	GeneratePresignedUploadURL(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	ObjectSize(ctx context.Context, key string) (int64, error)
	PresignExpire() time.Duration
}

// downloadExpire bounds download and shared media URLs.
const downloadExpire = time.Hour

// shareExpiries are the lifetimes a share link may be created with.
// An empty value creates a link that never expires.
var shareExpiries = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// CreateRequest is the body for POST /uploads.
type CreateRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
}

// CreateResponse carries the pending upload and where to PUT the bytes.
type CreateResponse struct {
	Upload    *models.Upload `json:"upload"`
	UploadURL string         `json:"upload_url"`
	ExpiresIn int            `json:"expires_in"` // seconds
}

// DownloadResponse is a short-lived GET URL for an upload.
type DownloadResponse struct {
	DownloadURL string `json:"download_url"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// ShareRequest is the body for POST /uploads/:id/share.
type ShareRequest struct {
	ExpiresIn string `json:"expires_in"` // "1h", "24h", "7d" or empty
}

// ShareResponse carries a new share link.
type ShareResponse struct {
	Token     string     `json:"token"`
	ShareURL  string     `json:"share_url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SharedMedia is what a share link resolves to.
type SharedMedia struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
	MediaURL string `json:"media_url"`
}

// Handler handles upload HTTP endpoints.
type Handler struct {
	repo         Store
	shares       ShareStore
	objects      ObjectStore
	shareBaseURL string
	now          func() time.Time
	logger       *zap.Logger
}

// NewHandler creates an upload handler. Share links point at
// shareBaseURL + "/share/<token>".
func NewHandler(repo Store, shares ShareStore, objects ObjectStore, shareBaseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		repo:         repo,
		shares:       shares,
		objects:      objects,
		shareBaseURL: strings.TrimRight(shareBaseURL, "/"),
		now:          time.Now,
		logger:       logger,
	}
}

// RegisterRoutes mounts the upload routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/uploads", h.Create)
	g.GET("/uploads", h.List)
	g.GET("/uploads/:id", h.Get)
	g.POST("/uploads/:id/complete", h.Complete)
	g.GET("/uploads/:id/download-url", h.DownloadURL)
	g.POST("/uploads/:id/share", h.Share)
}

// RegisterPublicRoutes mounts the routes that need no token.
func (h *Handler) RegisterPublicRoutes(g *gin.RouterGroup) {
	g.GET("/share/:token", h.ResolveShare)
}

// Create handles POST /uploads.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !storage.ValidateVideoFileType(req.ContentType, req.FileName) {
		response.BadRequest(c, "unsupported file type, expected a video")
		return
	}
	contentType := req.ContentType
	ext := storage.VideoExtension(contentType, req.FileName)
	if _, ok := storage.AllowedVideoTypes[contentType]; !ok {
		contentType = storage.AllowedVideoExtensions[ext]
	}

	userID := middleware.UserID(c)
	u := &models.Upload{
		ID:       uuid.New(),
		UserID:   userID,
		FileName: req.FileName,
		FileType: contentType,
		FileSize: req.FileSize,
		Status:   models.UploadPending,
	}
	u.FileKey = storage.UploadKey(userID.String(), u.ID.String(), ext)

	expires := h.objects.PresignExpire()
	url, err := h.objects.GeneratePresignedUploadURL(c.Request.Context(), u.FileKey, contentType, expires)
	if err != nil {
		h.logger.Error("presign upload", zap.String("key", u.FileKey), zap.Error(err))
		response.Internal(c, "failed to prepare upload")
		return
	}
	if err := h.repo.Create(c.Request.Context(), u); err != nil {
		h.logger.Error("create upload", zap.Error(err))
		response.Internal(c, "failed to create upload")
		return
	}
	h.logger.Info("upload created",
		zap.String("upload_id", u.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("key", u.FileKey),
	)
	response.Created(c, CreateResponse{Upload: u, UploadURL: url, ExpiresIn: int(expires.Seconds())})
}

// List handles GET /uploads.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.ListByUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("list uploads", zap.Error(err))
		response.Internal(c, "failed to list uploads")
		return
	}
	if list == nil {
		list = []*models.Upload{}
	}
	response.OK(c, list)
}

// Get handles GET /uploads/:id.
func (h *Handler) Get(c *gin.Context) {
	u, ok := h.owned(c)
	if !ok {
		return
	}
	response.OK(c, u)
}

// Complete handles POST /uploads/:id/complete. The object must already be in the bucket.
func (h *Handler) Complete(c *gin.Context) {
	u, ok := h.owned(c)
	if !ok {
		return
	}
	if u.Status == models.UploadCompleted {
		response.OK(c, u)
		return
	}
	size, err := h.objects.ObjectSize(c.Request.Context(), u.FileKey)
	if errors.Is(err, storage.ErrNotFound) {
		response.Conflict(c, "video has not been uploaded yet")
		return
	}
	if err != nil {
		h.logger.Error("check uploaded object", zap.String("key", u.FileKey), zap.Error(err))
		response.Internal(c, "failed to check upload")
		return
	}
	if size == 0 {
		response.BadRequest(c, "uploaded video is empty")
		return
	}
	done, err := h.repo.MarkCompleted(c.Request.Context(), u.ID, size)
	if err != nil {
		h.logger.Error("complete upload", zap.String("upload_id", u.ID.String()), zap.Error(err))
		response.Internal(c, "failed to complete upload")
		return
	}
	response.OK(c, done)
}

// DownloadURL handles GET /uploads/:id/download-url.
func (h *Handler) DownloadURL(c *gin.Context) {
	u, ok := h.owned(c)
	if !ok {
		return
	}
	if u.Status != models.UploadCompleted {
		response.Conflict(c, "video has not been uploaded yet")
		return
	}
	url, err := h.objects.GeneratePresignedDownloadURL(c.Request.Context(), u.FileKey, downloadExpire)
	if err != nil {
		h.logger.Error("presign download", zap.String("key", u.FileKey), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, DownloadResponse{DownloadURL: url, ExpiresIn: int(downloadExpire.Seconds())})
}

// Share handles POST /uploads/:id/share.
func (h *Handler) Share(c *gin.Context) {
	var req ShareRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	var ttl time.Duration
	if req.ExpiresIn != "" {
		d, ok := shareExpiries[req.ExpiresIn]
		if !ok {
			response.BadRequest(c, "expires_in must be one of 1h, 24h, 7d")
			return
		}
		ttl = d
	}
	u, ok := h.owned(c)
	if !ok {
		return
	}
	if u.Status != models.UploadCompleted {
		response.Conflict(c, "video has not been uploaded yet")
		return
	}

	share := &models.Share{Token: uuid.NewString(), UploadID: u.ID, OwnerID: u.UserID}
	if ttl > 0 {
		at := h.now().Add(ttl).UTC()
		share.ExpiresAt = &at
	}
	if err := h.shares.CreateShare(c.Request.Context(), share); err != nil {
		h.logger.Error("create share", zap.String("upload_id", u.ID.String()), zap.Error(err))
		response.Internal(c, "failed to create share link")
		return
	}
	h.logger.Info("share link created",
		zap.String("upload_id", u.ID.String()),
		zap.String("expires_in", req.ExpiresIn),
	)
	response.Created(c, ShareResponse{
		Token:     share.Token,
		ShareURL:  h.shareBaseURL + "/share/" + share.Token,
		ExpiresAt: share.ExpiresAt,
	})
}

// ResolveShare handles GET /share/:token. Expired links answer 410.
func (h *Handler) ResolveShare(c *gin.Context) {
	share, err := h.shares.GetShare(c.Request.Context(), c.Param("token"))
	if errors.Is(err, ErrShareNotFound) {
		response.NotFound(c, "share link not found")
		return
	}
	if err != nil {
		h.logger.Error("load share", zap.Error(err))
		response.Internal(c, "failed to load share link")
		return
	}
	if share.Expired(h.now()) {
		response.Gone(c, "share link has expired")
		return
	}
	u, err := h.repo.GetByID(c.Request.Context(), share.UploadID)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "shared video no longer exists")
		return
	}
	if err != nil {
		h.logger.Error("load shared upload", zap.String("upload_id", share.UploadID.String()), zap.Error(err))
		response.Internal(c, "failed to load share link")
		return
	}
	url, err := h.objects.GeneratePresignedDownloadURL(c.Request.Context(), u.FileKey, downloadExpire)
	if err != nil {
		h.logger.Error("presign shared media", zap.String("key", u.FileKey), zap.Error(err))
		response.Internal(c, "failed to generate media url")
		return
	}
	response.OK(c, SharedMedia{FileName: u.FileName, FileType: u.FileType, FileSize: u.FileSize, MediaURL: url})
}

func (h *Handler) owned(c *gin.Context) (*models.Upload, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid upload id")
		return nil, false
	}
	u, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "upload not found")
		return nil, false
	}
	if err != nil {
		response.Internal(c, "failed to load upload")
		return nil, false
	}
	if u.UserID != middleware.UserID(c) {
		response.NotFound(c, "upload not found")
		return nil, false
	}
	return u, true
}

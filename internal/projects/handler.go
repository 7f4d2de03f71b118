// Package projects groups an uploaded video with the jobs run against it.
package projects

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/jobs"
	"github.com/clueso-studio/backend/internal/middleware"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/uploads"
	"github.com/clueso-studio/backend/pkg/response"
)

const (
	maxTitleLen = 200
	fileURLTTL  = time.Hour
)

// Store persists projects.
type Store interface {
	Create(ctx context.Context, p *models.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Project, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) (*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// UploadLookup loads the upload a project points at.
type UploadLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
}

// JobLookup finds the newest job started for a project.
type JobLookup interface {
	LatestByProject(ctx context.Context, userID uuid.UUID, projectID string) (*models.Job, error)
}

// Presigner signs GET URLs for stored objects.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// CreateRequest is the body for POST /projects.
type CreateRequest struct {
	Title    string `json:"title" binding:"required"`
	UploadID string `json:"upload_id" binding:"required"`
}

// UpdateRequest is the body for PATCH /projects/:id.
type UpdateRequest struct {
	Title string `json:"title" binding:"required"`
}

// Detail is a project with its video and the state of its latest job.
type Detail struct {
	*models.Project
	FileKey   string           `json:"file_key"`
	FileURL   string           `json:"file_url"`
	JobID     *uuid.UUID       `json:"job_id,omitempty"`
	JobStatus models.JobStatus `json:"job_status,omitempty"`
}

// Handler handles project HTTP endpoints.
type Handler struct {
	repo    Store
	uploads UploadLookup
	jobs    JobLookup
	objects Presigner
	logger  *zap.Logger
}

// NewHandler creates a project handler.
func NewHandler(repo Store, ups UploadLookup, js JobLookup, objects Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, uploads: ups, jobs: js, objects: objects, logger: logger}
}

// RegisterRoutes mounts the project routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/projects", h.Create)
	g.GET("/projects", h.List)
	g.GET("/projects/:id", h.Get)
	g.PATCH("/projects/:id", h.Update)
	g.DELETE("/projects/:id", h.Delete)
}

func cleanTitle(raw string) (string, bool) {
	title := strings.TrimSpace(raw)
	return title, title != "" && len(title) <= maxTitleLen
}

// Create handles POST /projects. The upload must be the caller's and finished.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	title, ok := cleanTitle(req.Title)
	if !ok {
		response.BadRequest(c, "title must be 1-200 characters")
		return
	}
	uploadID, err := uuid.Parse(req.UploadID)
	if err != nil {
		response.BadRequest(c, "invalid upload_id")
		return
	}
	userID := middleware.UserID(c)
	up, err := h.uploads.GetByID(c.Request.Context(), uploadID)
	if errors.Is(err, uploads.ErrNotFound) || (err == nil && up.UserID != userID) {
		response.NotFound(c, "upload not found")
		return
	}
	if err != nil {
		h.logger.Error("load upload", zap.String("upload_id", uploadID.String()), zap.Error(err))
		response.Internal(c, "failed to load upload")
		return
	}
	if up.Status != models.UploadCompleted {
		response.Conflict(c, "video has not been uploaded yet")
		return
	}

	p := &models.Project{ID: uuid.New(), UserID: userID, UploadID: up.ID, Title: title}
	if err := h.repo.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create project", zap.Error(err))
		response.Internal(c, "failed to create project")
		return
	}
	h.logger.Info("project created",
		zap.String("project_id", p.ID.String()),
		zap.String("upload_id", up.ID.String()),
	)
	response.Created(c, p)
}

// List handles GET /projects.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.ListByUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("list projects", zap.Error(err))
		response.Internal(c, "failed to list projects")
		return
	}
	if list == nil {
		list = []*models.Project{}
	}
	response.OK(c, list)
}

// Get handles GET /projects/:id.
func (h *Handler) Get(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	up, err := h.uploads.GetByID(ctx, p.UploadID)
	if err != nil {
		h.logger.Error("load project upload", zap.String("project_id", p.ID.String()), zap.Error(err))
		response.Internal(c, "failed to load project video")
		return
	}
	url, err := h.objects.GeneratePresignedDownloadURL(ctx, up.FileKey, fileURLTTL)
	if err != nil {
		h.logger.Error("presign project video", zap.String("key", up.FileKey), zap.Error(err))
		response.Internal(c, "failed to generate file url")
		return
	}
	d := Detail{Project: p, FileKey: up.FileKey, FileURL: url}

	job, err := h.jobs.LatestByProject(ctx, p.UserID, p.ID.String())
	switch {
	case err == nil:
		d.JobID = &job.ID
		d.JobStatus = job.Status
	case errors.Is(err, jobs.ErrNotFound):
	default:
		h.logger.Error("load project job", zap.String("project_id", p.ID.String()), zap.Error(err))
		response.Internal(c, "failed to load project job")
		return
	}
	response.OK(c, d)
}

// Update handles PATCH /projects/:id.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	title, ok := cleanTitle(req.Title)
	if !ok {
		response.BadRequest(c, "title must be 1-200 characters")
		return
	}
	p, ok := h.owned(c)
	if !ok {
		return
	}
	updated, err := h.repo.UpdateTitle(c.Request.Context(), p.ID, title)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "project not found")
		return
	}
	if err != nil {
		h.logger.Error("update project", zap.String("project_id", p.ID.String()), zap.Error(err))
		response.Internal(c, "failed to update project")
		return
	}
	response.OK(c, updated)
}

// Delete handles DELETE /projects/:id.
func (h *Handler) Delete(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	err := h.repo.Delete(c.Request.Context(), p.ID)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "project not found")
		return
	}
	if err != nil {
		h.logger.Error("delete project", zap.String("project_id", p.ID.String()), zap.Error(err))
		response.Internal(c, "failed to delete project")
		return
	}
	h.logger.Info("project deleted", zap.String("project_id", p.ID.String()))
	response.OK(c, gin.H{"id": p.ID})
}

func (h *Handler) owned(c *gin.Context) (*models.Project, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return nil, false
	}
	p, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) || (err == nil && p.UserID != middleware.UserID(c)) {
		response.NotFound(c, "project not found")
		return nil, false
	}
	if err != nil {
		response.Internal(c, "failed to load project")
		return nil, false
	}
	return p, true
}

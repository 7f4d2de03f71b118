package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/middleware"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/pipeline"
	"github.com/clueso-studio/backend/internal/stages"
	"github.com/clueso-studio/backend/pkg/response"
)

// ScriptAssistant is the LLM surface exposed over HTTP.
type ScriptAssistant interface {
	Rewrite(ctx context.Context, text string) (string, error)
	Ping(ctx context.Context) (string, error)
	Model() string
}

// Canceler stops a queued or running pipeline.
type Canceler interface {
	Cancel(jobID uuid.UUID) bool
}

// CreateJobRequest is the body for POST /jobs.
type CreateJobRequest struct {
	UploadID  string `json:"upload_id" binding:"required"`
	ProjectID string `json:"project_id"`
}

// RewriteRequest is the body for POST /scripts/rewrite.
type RewriteRequest struct {
	Text string `json:"text" binding:"required"`
}

// Handler exposes the lifecycle service over HTTP.
type Handler struct {
	svc      *Service
	llm      ScriptAssistant
	canceler Canceler
	logger   *zap.Logger
}

// NewHandler creates a lifecycle handler. llm and canceler may be nil.
func NewHandler(svc *Service, llm ScriptAssistant, canceler Canceler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, llm: llm, canceler: canceler, logger: logger}
}

// RegisterRoutes mounts the job routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/jobs", h.CreateJob)
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.GetJob)
	g.POST("/jobs/:id/stages/:stage", h.TriggerStage)
	g.GET("/jobs/:id/transcript", h.GetTranscript)
	g.GET("/jobs/:id/artifacts/:artifact/url", h.ArtifactURL)
	g.POST("/scripts/rewrite", h.Rewrite)
	g.GET("/health/llm", h.LLMHealth)
}

// RegisterAdminRoutes mounts operator routes; the group must already require the admin role.
func (h *Handler) RegisterAdminRoutes(g *gin.RouterGroup) {
	g.POST("/jobs/:id/cancel", h.Cancel)
}

// CreateJob handles POST /jobs.
func (h *Handler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	uploadID, err := uuid.Parse(req.UploadID)
	if err != nil {
		response.BadRequest(c, "invalid upload_id")
		return
	}
	job, err := h.svc.CreateJob(c.Request.Context(), uploadID, middleware.UserID(c), req.ProjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, job)
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	list, err := h.svc.ListJobs(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []*models.Job{}
	}
	response.OK(c, list)
}

// GetJob handles GET /jobs/:id.
func (h *Handler) GetJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(c.Request.Context(), jobID, middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, job)
}

// TriggerStage handles POST /jobs/:id/stages/:stage. The stage runs before the response is written.
func (h *Handler) TriggerStage(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	stage, err := models.ParseStage(c.Param("stage"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	job, err := h.svc.TriggerStage(c.Request.Context(), stage, jobID, middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, job)
}

// GetTranscript handles GET /jobs/:id/transcript.
func (h *Handler) GetTranscript(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	job, view, err := h.svc.GetTranscript(c.Request.Context(), jobID, middleware.UserID(c))
	if job != nil && job.Status == models.JobFailed {
		response.UnprocessableEntity(c, job.ErrorMessage, gin.H{"job_id": job.ID, "status": job.Status})
		return
	}
	if errors.Is(err, ErrArtifactNotReady) {
		response.Accepted(c, gin.H{"job_id": job.ID, "status": job.Status, "message": "transcript is still being processed"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, view)
}

// ArtifactURL handles GET /jobs/:id/artifacts/:artifact/url.
func (h *Handler) ArtifactURL(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	link, err := h.svc.ArtifactURL(c.Request.Context(), jobID, middleware.UserID(c), c.Param("artifact"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, link)
}

// Rewrite handles POST /scripts/rewrite.
func (h *Handler) Rewrite(c *gin.Context) {
	if h.llm == nil {
		response.ServiceUnavailable(c, "script assistant is not configured")
		return
	}
	var req RewriteRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		response.BadRequest(c, "text is required")
		return
	}
	text, err := h.llm.Rewrite(c.Request.Context(), req.Text)
	if err != nil {
		h.logger.Warn("script rewrite failed", zap.Error(err))
		response.BadGateway(c, "script rewrite failed")
		return
	}
	response.OK(c, gin.H{"script": text, "model": h.llm.Model()})
}

// LLMHealth handles GET /health/llm.
func (h *Handler) LLMHealth(c *gin.Context) {
	if h.llm == nil {
		response.ServiceUnavailable(c, "script assistant is not configured")
		return
	}
	msg, err := h.llm.Ping(c.Request.Context())
	if err != nil {
		h.logger.Warn("llm health check failed", zap.Error(err))
		response.BadGateway(c, "llm unreachable: "+err.Error())
		return
	}
	response.OK(c, gin.H{"model": h.llm.Model(), "message": msg})
}

// Cancel handles POST /admin/jobs/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	if h.canceler == nil {
		response.ServiceUnavailable(c, "jobs run out of process, cancel is unavailable")
		return
	}
	if !h.canceler.Cancel(jobID) {
		response.NotFound(c, "job is not queued or running")
		return
	}
	h.logger.Info("job canceled by admin", zap.String("job_id", jobID.String()), zap.String("admin_id", middleware.UserID(c).String()))
	response.OK(c, gin.H{"job_id": jobID, "canceled": true})
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrUploadNotReady), errors.Is(err, ErrUnknownArtifact):
		response.BadRequest(c, err.Error())
	case errors.As(err, &statusErr):
		response.Conflict(c, statusErr.Error())
	case errors.Is(err, ErrArtifactNotReady), errors.Is(err, pipeline.ErrMissingArtifact), errors.Is(err, stages.ErrInput),
		errors.Is(err, pipeline.ErrAlreadyQueued):
		response.Conflict(c, err.Error())
	case errors.Is(err, pipeline.ErrPoolClosed):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, stages.ErrValidation):
		response.UnprocessableEntity(c, err.Error(), nil)
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Internal(c, err.Error())
	}
}

package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clueso-studio/backend/internal/jobs"
	"github.com/clueso-studio/backend/internal/middleware"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/internal/uploads"
)

type memProjects struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
	clock    time.Time
}

func (m *memProjects) Create(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	p.CreatedAt, p.UpdatedAt = m.clock, m.clock
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memProjects) GetByID(_ context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Project
	for _, p := range m.projects {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *memProjects) UpdateTitle(_ context.Context, id uuid.UUID, title string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Title = title
	cp := *p
	return &cp, nil
}

func (m *memProjects) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

type memUploads map[uuid.UUID]*models.Upload

func (m memUploads) GetByID(_ context.Context, id uuid.UUID) (*models.Upload, error) {
	u, ok := m[id]
	if !ok {
		return nil, uploads.ErrNotFound
	}
	return u, nil
}

type fakePresigner struct{}

func (fakePresigner) GeneratePresignedDownloadURL(_ context.Context, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://bucket.local/%s?ttl=%d", key, int(expires.Seconds())), nil
}

type fixture struct {
	router   *gin.Engine
	projects *memProjects
	uploads  memUploads
	jobs     *jobs.MemoryStore
	userID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		projects: &memProjects{projects: map[uuid.UUID]*models.Project{}, clock: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)},
		uploads:  memUploads{},
		jobs:     jobs.NewMemoryStore(),
		userID:   uuid.New(),
	}
	h := NewHandler(f.projects, f.uploads, f.jobs, fakePresigner{}, zaptest.NewLogger(t))
	f.router = gin.New()
	g := f.router.Group("/", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, f.userID)
		c.Next()
	})
	h.RegisterRoutes(g)
	return f
}

func (f *fixture) addUpload(owner uuid.UUID, status models.UploadStatus) *models.Upload {
	u := &models.Upload{
		ID:       uuid.New(),
		UserID:   owner,
		FileKey:  "clueso/uploads/" + owner.String() + "/video.mp4",
		FileName: "video.mp4",
		Status:   status,
	}
	f.uploads[u.ID] = u
	return u
}

func send(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func (f *fixture) create(t *testing.T, title string, uploadID uuid.UUID) *models.Project {
	t.Helper()
	w := send(f.router, http.MethodPost, "/projects", CreateRequest{Title: title, UploadID: uploadID.String()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Data models.Project `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return &body.Data
}

func TestCreateProject(t *testing.T) {
	f := newFixture(t)
	up := f.addUpload(f.userID, models.UploadCompleted)

	p := f.create(t, "  Onboarding demo ", up.ID)
	assert.Equal(t, "Onboarding demo", p.Title)
	assert.Equal(t, up.ID, p.UploadID)
	assert.Equal(t, f.userID, p.UserID)
}

func TestCreateProjectRejections(t *testing.T) {
	f := newFixture(t)
	pending := f.addUpload(f.userID, models.UploadPending)
	foreign := f.addUpload(uuid.New(), models.UploadCompleted)
	done := f.addUpload(f.userID, models.UploadCompleted)

	tests := []struct {
		name string
		body CreateRequest
		want int
	}{
		{"blank title", CreateRequest{Title: "   ", UploadID: done.ID.String()}, http.StatusBadRequest},
		{"bad upload id", CreateRequest{Title: "x", UploadID: "nope"}, http.StatusBadRequest},
		{"unknown upload", CreateRequest{Title: "x", UploadID: uuid.NewString()}, http.StatusNotFound},
		{"someone else's upload", CreateRequest{Title: "x", UploadID: foreign.ID.String()}, http.StatusNotFound},
		{"pending upload", CreateRequest{Title: "x", UploadID: pending.ID.String()}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := send(f.router, http.MethodPost, "/projects", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, f.projects.projects)
}

func TestListProjectsNewestFirst(t *testing.T) {
	f := newFixture(t)
	up := f.addUpload(f.userID, models.UploadCompleted)
	first := f.create(t, "first", up.ID)
	second := f.create(t, "second", up.ID)
	require.NoError(t, f.projects.Create(context.Background(), &models.Project{ID: uuid.New(), UserID: uuid.New(), Title: "other"}))

	w := send(f.router, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.Project `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, second.ID, body.Data[0].ID)
	assert.Equal(t, first.ID, body.Data[1].ID)
}

func TestGetProjectIncludesLatestJob(t *testing.T) {
	f := newFixture(t)
	up := f.addUpload(f.userID, models.UploadCompleted)
	p := f.create(t, "demo", up.ID)

	w := send(f.router, http.MethodGet, "/projects/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data Detail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://bucket.local/"+up.FileKey+"?ttl=3600", body.Data.FileURL)
	assert.Nil(t, body.Data.JobID)

	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	older := &models.Job{ID: uuid.New(), UserID: f.userID, ProjectID: p.ID.String(), Status: models.JobCompleted, CreatedAt: base}
	newer := &models.Job{ID: uuid.New(), UserID: f.userID, ProjectID: p.ID.String(), Status: models.JobAudioExtracted, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, f.jobs.Put(context.Background(), older))
	require.NoError(t, f.jobs.Put(context.Background(), newer))

	w = send(f.router, http.MethodGet, "/projects/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	body.Data = Detail{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Data.JobID)
	assert.Equal(t, newer.ID, *body.Data.JobID)
	assert.Equal(t, models.JobAudioExtracted, body.Data.JobStatus)
	assert.Equal(t, "demo", body.Data.Title)
}

func TestUpdateAndDeleteProject(t *testing.T) {
	f := newFixture(t)
	up := f.addUpload(f.userID, models.UploadCompleted)
	p := f.create(t, "draft", up.ID)
	path := "/projects/" + p.ID.String()

	assert.Equal(t, http.StatusBadRequest, send(f.router, http.MethodPatch, path, UpdateRequest{Title: " "}).Code)
	w := send(f.router, http.MethodPatch, path, UpdateRequest{Title: "final cut"})
	require.Equal(t, http.StatusOK, w.Code)
	stored, err := f.projects.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "final cut", stored.Title)

	assert.Equal(t, http.StatusOK, send(f.router, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, send(f.router, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, send(f.router, http.MethodDelete, path, nil).Code)
}

func TestProjectOwnership(t *testing.T) {
	f := newFixture(t)
	other := &models.Project{ID: uuid.New(), UserID: uuid.New(), Title: "theirs"}
	require.NoError(t, f.projects.Create(context.Background(), other))
	path := "/projects/" + other.ID.String()

	assert.Equal(t, http.StatusNotFound, send(f.router, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, send(f.router, http.MethodPatch, path, UpdateRequest{Title: "mine"}).Code)
	assert.Equal(t, http.StatusNotFound, send(f.router, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, send(f.router, http.MethodGet, "/projects/nope", nil).Code)

	stored, err := f.projects.GetByID(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, "theirs", stored.Title)
}

package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clueso-studio/backend/internal/middleware"
	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/pkg/storage"
)

type memUploads struct {
	mu      sync.Mutex
	uploads map[uuid.UUID]*models.Upload
	shares  map[string]*models.Share
}

func (m *memUploads) Create(_ context.Context, u *models.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.uploads[u.ID] = &cp
	return nil
}

func (m *memUploads) GetByID(_ context.Context, id uuid.UUID) (*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUploads) MarkCompleted(_ context.Context, id uuid.UUID, size int64) (*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Status = models.UploadCompleted
	u.FileSize = size
	cp := *u
	return &cp, nil
}

func (m *memUploads) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Upload
	for _, u := range m.uploads {
		if u.UserID == userID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *memUploads) CreateShare(_ context.Context, s *models.Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.shares[s.Token] = &cp
	return nil
}

func (m *memUploads) GetShare(_ context.Context, token string) (*models.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[token]
	if !ok {
		return nil, ErrShareNotFound
	}
	cp := *s
	return &cp, nil
}

type fakeBucket struct {
	sizes map[string]int64
}

func (f *fakeBucket) GeneratePresignedUploadURL(_ context.Context, key, contentType string, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://bucket.local/%s?ct=%s", key, contentType), nil
}

func (f *fakeBucket) GeneratePresignedDownloadURL(_ context.Context, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://bucket.local/%s?ttl=%d", key, int(expires.Seconds())), nil
}

func (f *fakeBucket) ObjectSize(_ context.Context, key string) (int64, error) {
	size, ok := f.sizes[key]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return size, nil
}

func (f *fakeBucket) PresignExpire() time.Duration { return 15 * time.Minute }

type fixture struct {
	router *gin.Engine
	repo   *memUploads
	bucket *fakeBucket
	now    time.Time
}

func newFixture(t *testing.T, userID uuid.UUID) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		repo:   &memUploads{uploads: map[uuid.UUID]*models.Upload{}, shares: map[string]*models.Share{}},
		bucket: &fakeBucket{sizes: map[string]int64{}},
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h := NewHandler(f.repo, f.repo, f.bucket, "https://app.clueso.test/", zaptest.NewLogger(t))
	h.now = func() time.Time { return f.now }
	f.router = gin.New()
	h.RegisterPublicRoutes(f.router.Group("/"))
	g := f.router.Group("/api", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	h.RegisterRoutes(g)
	return f
}

func newRouter(t *testing.T, userID uuid.UUID) (*gin.Engine, *memUploads, *fakeBucket) {
	f := newFixture(t, userID)
	return f.router, f.repo, f.bucket
}

func completedUpload(t *testing.T, repo *memUploads, userID uuid.UUID, created time.Time) *models.Upload {
	t.Helper()
	u := &models.Upload{
		ID:        uuid.New(),
		UserID:    userID,
		FileKey:   "clueso/uploads/" + userID.String() + "/" + uuid.NewString() + ".mp4",
		FileName:  "demo.mp4",
		FileType:  "video/mp4",
		FileSize:  2048,
		Status:    models.UploadCompleted,
		CreatedAt: created,
	}
	require.NoError(t, repo.Create(context.Background(), u))
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

func TestCreateAndCompleteUpload(t *testing.T) {
	userID := uuid.New()
	r, repo, bucket := newRouter(t, userID)

	w := send(r, http.MethodPost, "/api/uploads", CreateRequest{FileName: "demo.mov", ContentType: "video/quicktime"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data CreateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	up := created.Data.Upload
	assert.Equal(t, models.UploadPending, up.Status)
	assert.Equal(t, storage.UploadKey(userID.String(), up.ID.String(), ".mov"), up.FileKey)
	assert.True(t, strings.HasPrefix(created.Data.UploadURL, "https://bucket.local/clueso/uploads/"))
	assert.Equal(t, 900, created.Data.ExpiresIn)

	w = send(r, http.MethodPost, "/api/uploads/"+up.ID.String()+"/complete", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "object not in bucket yet")

	bucket.sizes[up.FileKey] = 4096
	w = send(r, http.MethodPost, "/api/uploads/"+up.ID.String()+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := repo.GetByID(context.Background(), up.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadCompleted, stored.Status)
	assert.Equal(t, int64(4096), stored.FileSize)
}

func TestCreateUploadRejectsNonVideo(t *testing.T) {
	r, _, _ := newRouter(t, uuid.New())
	w := send(r, http.MethodPost, "/api/uploads", CreateRequest{FileName: "notes.pdf", ContentType: "application/pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateUploadInfersContentType(t *testing.T) {
	r, repo, _ := newRouter(t, uuid.New())
	w := send(r, http.MethodPost, "/api/uploads", CreateRequest{FileName: "clip.webm"})
	require.Equal(t, http.StatusCreated, w.Code)
	for _, u := range repo.uploads {
		assert.Equal(t, "video/webm", u.FileType)
	}
}

func TestUploadOwnership(t *testing.T) {
	r, repo, _ := newRouter(t, uuid.New())
	other := &models.Upload{ID: uuid.New(), UserID: uuid.New(), Status: models.UploadCompleted}
	require.NoError(t, repo.Create(context.Background(), other))

	assert.Equal(t, http.StatusNotFound, send(r, http.MethodGet, "/api/uploads/"+other.ID.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, send(r, http.MethodGet, "/api/uploads/nope", nil).Code)
}

func TestListUploadsNewestFirst(t *testing.T) {
	userID := uuid.New()
	f := newFixture(t, userID)
	older := completedUpload(t, f.repo, userID, f.now.Add(-time.Hour))
	newer := completedUpload(t, f.repo, userID, f.now)
	completedUpload(t, f.repo, uuid.New(), f.now)

	w := send(f.router, http.MethodGet, "/api/uploads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.Upload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, newer.ID, body.Data[0].ID)
	assert.Equal(t, older.ID, body.Data[1].ID)
}

func TestListUploadsEmpty(t *testing.T) {
	f := newFixture(t, uuid.New())
	w := send(f.router, http.MethodGet, "/api/uploads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())
}

func TestDownloadURL(t *testing.T) {
	userID := uuid.New()
	f := newFixture(t, userID)
	u := completedUpload(t, f.repo, userID, f.now)

	w := send(f.router, http.MethodGet, "/api/uploads/"+u.ID.String()+"/download-url", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data DownloadResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://bucket.local/"+u.FileKey+"?ttl=3600", body.Data.DownloadURL)
	assert.Equal(t, 3600, body.Data.ExpiresIn)

	pending := &models.Upload{ID: uuid.New(), UserID: userID, Status: models.UploadPending}
	require.NoError(t, f.repo.Create(context.Background(), pending))
	w = send(f.router, http.MethodGet, "/api/uploads/"+pending.ID.String()+"/download-url", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	other := completedUpload(t, f.repo, uuid.New(), f.now)
	w = send(f.router, http.MethodGet, "/api/uploads/"+other.ID.String()+"/download-url", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func createShare(t *testing.T, f *fixture, uploadID uuid.UUID, expiresIn string) ShareResponse {
	t.Helper()
	w := send(f.router, http.MethodPost, "/api/uploads/"+uploadID.String()+"/share", ShareRequest{ExpiresIn: expiresIn})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Data ShareResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data
}

func TestShareLinkResolves(t *testing.T) {
	userID := uuid.New()
	f := newFixture(t, userID)
	u := completedUpload(t, f.repo, userID, f.now)

	share := createShare(t, f, u.ID, "")
	assert.Equal(t, "https://app.clueso.test/share/"+share.Token, share.ShareURL)
	assert.Nil(t, share.ExpiresAt)

	f.now = f.now.Add(365 * 24 * time.Hour)
	w := send(f.router, http.MethodGet, "/share/"+share.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data SharedMedia `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, SharedMedia{
		FileName: "demo.mp4",
		FileType: "video/mp4",
		FileSize: 2048,
		MediaURL: "https://bucket.local/" + u.FileKey + "?ttl=3600",
	}, body.Data)
}

func TestShareLinkExpires(t *testing.T) {
	userID := uuid.New()
	f := newFixture(t, userID)
	u := completedUpload(t, f.repo, userID, f.now)

	share := createShare(t, f, u.ID, "24h")
	require.NotNil(t, share.ExpiresAt)
	assert.True(t, share.ExpiresAt.Equal(f.now.Add(24*time.Hour)))

	f.now = f.now.Add(23 * time.Hour)
	assert.Equal(t, http.StatusOK, send(f.router, http.MethodGet, "/share/"+share.Token, nil).Code)

	f.now = f.now.Add(time.Hour)
	assert.Equal(t, http.StatusGone, send(f.router, http.MethodGet, "/share/"+share.Token, nil).Code)
}

func TestShareRejections(t *testing.T) {
	userID := uuid.New()
	f := newFixture(t, userID)
	u := completedUpload(t, f.repo, userID, f.now)
	other := completedUpload(t, f.repo, uuid.New(), f.now)
	pending := &models.Upload{ID: uuid.New(), UserID: userID, Status: models.UploadPending}
	require.NoError(t, f.repo.Create(context.Background(), pending))

	tests := []struct {
		name     string
		uploadID uuid.UUID
		body     any
		want     int
	}{
		{"unknown expiry", u.ID, ShareRequest{ExpiresIn: "30d"}, http.StatusBadRequest},
		{"someone else's upload", other.ID, ShareRequest{ExpiresIn: "1h"}, http.StatusNotFound},
		{"pending upload", pending.ID, ShareRequest{ExpiresIn: "1h"}, http.StatusConflict},
		{"no body", u.ID, nil, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := send(f.router, http.MethodPost, "/api/uploads/"+tt.uploadID.String()+"/share", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	assert.Equal(t, http.StatusNotFound, send(f.router, http.MethodGet, "/share/unknown-token", nil).Code)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/clueso-studio/backend/internal/auth"
	"github.com/clueso-studio/backend/internal/models"
)

func newRouter(t *testing.T, jwtSvc *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(zaptest.NewLogger(t)), CORS("http://app.local"))
	authed := r.Group("/", JWT(jwtSvc))
	authed.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c).String()) })
	authed.GET("/admin", RequireAdmin(zaptest.NewLogger(t)), func(c *gin.Context) { c.Status(http.StatusOK) })
	authed.GET("/staff", RequireRole(zaptest.NewLogger(t), models.RoleAdmin, models.RoleMember), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/open", RequireAdmin(nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func do(r http.Handler, method, path, token string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", 1)
	r := newRouter(t, jwtSvc)
	id := uuid.New()
	token, err := jwtSvc.Generate(id, "m@example.com", string(models.RoleMember))
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "garbage", nil).Code)
}

func TestRequireRole(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", 1)
	r := newRouter(t, jwtSvc)

	member, _ := jwtSvc.Generate(uuid.New(), "m@example.com", string(models.RoleMember))
	admin, _ := jwtSvc.Generate(uuid.New(), "a@example.com", string(models.RoleAdmin))

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin", member, nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/admin", admin, nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/staff", member, nil).Code)

	unknown, _ := jwtSvc.Generate(uuid.New(), "s@example.com", "speaker")
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/staff", unknown, nil).Code)

	// Without JWT in front there is no role to check.
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/open", "", nil).Code)
}

func TestRequireRoleLogsDenial(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.WarnLevel)
	jwtSvc := auth.NewJWTService("secret", 1)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/admin/jobs", JWT(jwtSvc), RequireAdmin(zap.New(core)), func(c *gin.Context) { c.Status(http.StatusOK) })

	id := uuid.New()
	member, _ := jwtSvc.Generate(id, "m@example.com", string(models.RoleMember))
	w := do(r, http.MethodGet, "/admin/jobs", member, map[string]string{HeaderRequestID: "req-7"})
	require.Equal(t, http.StatusForbidden, w.Code)

	entries := logs.FilterMessage("role denied").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id.String(), fields["user_id"])
	assert.Equal(t, "member", fields["role"])
	assert.Equal(t, "/admin/jobs", fields["route"])
	assert.Equal(t, "req-7", fields["request_id"])
}

func TestRequireRoleNeedsRoles(t *testing.T) {
	assert.Panics(t, func() { RequireRole(nil) })
}

func TestRequestIDAndCORS(t *testing.T) {
	r := newRouter(t, auth.NewJWTService("secret", 1))

	w := do(r, http.MethodGet, "/me", "", map[string]string{HeaderRequestID: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))

	w = do(r, http.MethodGet, "/me", "", nil)
	_, err := uuid.Parse(w.Header().Get(HeaderRequestID))
	assert.NoError(t, err)

	w = do(r, http.MethodOptions, "/me", "", map[string]string{"Origin": "http://app.local", "Access-Control-Request-Method": "POST"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://app.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderRequestID)
}

func TestCORSPolicy(t *testing.T) {
	tests := []struct {
		allowed string
		origin  string
		want    bool
	}{
		{"", "https://anything.example", true},
		{"*", "https://anything.example", true},
		{"http://localhost:3000, https://studio.clueso.io/", "https://studio.clueso.io", true},
		{"http://localhost:3000", "http://localhost:3001", false},
		{"https://*.clueso.io", "https://app.clueso.io", true},
		{"https://*.clueso.io", "https://a.b.clueso.io", true},
		{"https://*.clueso.io", "https://clueso.io", false},
		{"https://*.clueso.io", "http://app.clueso.io", false},
		{"https://*.clueso.io", "https://evilclueso.io", false},
		{"https://*.clueso.io", "https://clueso.io.evil.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.allowed+" "+tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, newCORSPolicy(tt.allowed).allows(tt.origin))
		})
	}
}

func TestCORSResponses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("https://*.clueso.io"))
	r.GET("/share/:token", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/share/t", "", map[string]string{"Origin": "https://app.clueso.io"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.clueso.io", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, HeaderRequestID, w.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))

	w = do(r, http.MethodGet, "/share/t", "", map[string]string{"Origin": "https://other.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodOptions, "/share/t", "", map[string]string{"Origin": "https://other.example", "Access-Control-Request-Method": "GET"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/share/t", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

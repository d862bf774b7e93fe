package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/auth"
	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/storage"
	"github.com/FilipRus/boxItFindIt/internal/storage/local"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// minimal storage.Storage mock for readiness tests
// ---------------------------------------------------------------------------

type readinessMockStorage struct{ existsErr error }

func (m *readinessMockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ int64, _ string) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *readinessMockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}
func (m *readinessMockStorage) Delete(_ context.Context, _ string) error { return nil }
func (m *readinessMockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return m.existsErr == nil, m.existsErr
}
func (m *readinessMockStorage) PublicURL(key string) string { return "https://cdn.example.com/" + key }
func (m *readinessMockStorage) KeyFromURL(string) (string, bool) {
	return "", false
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthCheckHandler_Healthy(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body := decode(t, w); body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body := decode(t, w); body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler_Ready(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/ready", readinessHandler(db, &readinessMockStorage{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["ready"] != true {
		t.Errorf("ready = %v, want true", body["ready"])
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["database"] != "healthy" || checks["storage"] != "healthy" {
		t.Errorf("checks = %v", checks)
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/ready", readinessHandler(db, &readinessMockStorage{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body := decode(t, w); body["ready"] != false {
		t.Errorf("ready = %v, want false", body["ready"])
	}
}

func TestReadinessHandler_StorageUnavailable(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/ready", readinessHandler(db, &readinessMockStorage{existsErr: errors.New("403 forbidden")}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	body := decode(t, w)
	if body["error"] != "storage backend not ready" {
		t.Errorf("error = %v", body["error"])
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["database"] != "healthy" || checks["storage"] != "unhealthy" {
		t.Errorf("checks = %v", checks)
	}
}

// ---------------------------------------------------------------------------
// versionHandler
// ---------------------------------------------------------------------------

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["version"] != Version {
		t.Errorf("version = %v, want %s", body["version"], Version)
	}
	if body["api_version"] == nil {
		t.Error("response missing 'api_version'")
	}
}

// ---------------------------------------------------------------------------
// LoggerMiddleware
// ---------------------------------------------------------------------------

func TestLoggerMiddleware_PassesThrough(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Logging.Format = format

			r := gin.New()
			r.Use(LoggerMiddleware(cfg))
			r.GET("/", func(c *gin.Context) { c.Status(http.StatusTeapot) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			if w.Code != http.StatusTeapot {
				t.Errorf("status = %d, want 418", w.Code)
			}
		})
	}
}

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"search=drill", "search=drill"},
		{"token=abc123", "token=REDACTED"},
		{"a=1&token=abc&b=2", "a=1&token=REDACTED&b=2"},
	}
	for _, tt := range tests {
		if got := redactQuery(tt.in); got != tt.want {
			t.Errorf("redactQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// CORSMiddleware
// ---------------------------------------------------------------------------

func corsRouter(cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"https://example.com"}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	corsRouter(cfg).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want https://example.com", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PATCH") || !strings.Contains(got, "PUT") {
		t.Errorf("Access-Control-Allow-Methods = %q, want PATCH and PUT", got)
	}
}

func TestCORSMiddleware_ConfiguredMethods(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	cfg.Security.CORS.AllowedMethods = []string{"GET", "POST"}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.com")
	corsRouter(cfg).ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Errorf("Access-Control-Allow-Methods = %q, want %q", got, "GET, POST")
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"https://allowed.com"}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.com")
	corsRouter(cfg).ServeHTTP(w, req)

	// Request passes through but no CORS header set
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("expected no Access-Control-Allow-Origin header for disallowed origin")
	}
}

func TestCORSMiddleware_PreflightOptions(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}

	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.OPTIONS("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for OPTIONS preflight", w.Code)
	}
}

func TestCORSMiddleware_WildcardNoOriginHeader(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}

	w := httptest.NewRecorder()
	corsRouter(cfg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

// ---------------------------------------------------------------------------
// serveFileHandler
// ---------------------------------------------------------------------------

func newLocalStorage(t *testing.T) (*local.LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	ls, err := local.New(&config.LocalStorageConfig{BasePath: dir, ServeDirectly: true}, "http://localhost:8080")
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	return ls, dir
}

func TestServeFileHandler(t *testing.T) {
	ls, dir := newLocalStorage(t)
	if err := os.MkdirAll(filepath.Join(dir, "items"), 0o750); err != nil {
		t.Fatal(err)
	}
	png := []byte("\x89PNG\r\n\x1a\nrest")
	if err := os.WriteFile(filepath.Join(dir, "items", "a.png"), png, 0o600); err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET(local.FilesRoute+"/*filepath", serveFileHandler(ls))

	t.Run("existing object", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, local.FilesRoute+"/items/a.png", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if w.Body.String() != string(png) {
			t.Errorf("body = %q", w.Body.String())
		}
		if got := w.Header().Get("Content-Type"); got != "image/png" {
			t.Errorf("Content-Type = %q, want image/png", got)
		}
		if !strings.Contains(w.Header().Get("Cache-Control"), "immutable") {
			t.Errorf("Cache-Control = %q", w.Header().Get("Cache-Control"))
		}
	})

	for name, path := range map[string]string{
		"missing":   "/items/b.png",
		"directory": "/items",
		"traversal": "/../../etc/passwd",
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, local.FilesRoute+path, nil))
			if w.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", w.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// NewRouter wiring
// ---------------------------------------------------------------------------

type routerUsers struct{}

func (routerUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if id != "user-1" {
		return nil, nil
	}
	return &models.User{ID: id, Email: "ada@example.com", EmailVerified: true}, nil
}

type routerBoxes struct{ listedBy string }

func (b *routerBoxes) List(_ context.Context, userID, _ string) ([]models.Box, error) {
	b.listedBy = userID
	return []models.Box{}, nil
}
func (b *routerBoxes) Create(context.Context, string, string, string) (*models.Box, error) {
	return nil, apperr.NotFoundf("Storage room not found")
}
func (b *routerBoxes) Get(context.Context, string, string) (*models.Box, error) {
	return nil, apperr.NotFoundf("Box not found")
}
func (b *routerBoxes) Rename(context.Context, string, string, string) (*models.Box, error) {
	return nil, apperr.NotFoundf("Box not found")
}
func (b *routerBoxes) Delete(context.Context, string, string) error {
	return apperr.NotFoundf("Box not found")
}
func (b *routerBoxes) Public(_ context.Context, code string) (*models.PublicBox, error) {
	if code != "ABCDEF1234" {
		return nil, apperr.NotFoundf("Box not found")
	}
	return &models.PublicBox{Name: "Tools", QRCode: code, Items: []models.PublicItem{}}, nil
}

type routerEnv struct {
	router *gin.Engine
	bg     *BackgroundServices
	boxes  *routerBoxes
	token  string
}

func newRouterEnv(t *testing.T, mutate func(*config.Config)) *routerEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	cfg.Security.RateLimiting.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	tokens, err := auth.NewTokenManager(strings.Repeat("k", 32), time.Hour, false)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	token, _, err := tokens.Generate("user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	boxes := &routerBoxes{}
	r, bg := NewRouter(cfg, Dependencies{
		Storage: &readinessMockStorage{},
		Tokens:  tokens,
		Users:   routerUsers{},
		Boxes:   boxes,
	})
	t.Cleanup(bg.Shutdown)
	return &routerEnv{router: r, bg: bg, boxes: boxes, token: token}
}

func (e *routerEnv) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestNewRouter_AuthenticatedRoutesRequireToken(t *testing.T) {
	env := newRouterEnv(t, nil)

	for _, path := range []string{"/api/boxes", "/api/storage-rooms", "/api/search?q=x", "/api/auth/me"} {
		w := env.do(http.MethodGet, path, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want 401", path, w.Code)
		}
	}

	w := env.do(http.MethodGet, "/api/boxes", "not-a-jwt")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: status = %d, want 401", w.Code)
	}
}

func TestNewRouter_AuthenticatedRequestReachesHandler(t *testing.T) {
	env := newRouterEnv(t, nil)

	w := env.do(http.MethodGet, "/api/boxes", env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"boxes":[]}` {
		t.Errorf("body = %s", w.Body.String())
	}
	if env.boxes.listedBy != "user-1" {
		t.Errorf("service saw user %q, want user-1", env.boxes.listedBy)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("API responses should carry security headers")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestNewRouter_PublicBoxNeedsNoToken(t *testing.T) {
	env := newRouterEnv(t, nil)

	w := env.do(http.MethodGet, "/api/public/box/ABCDEF1234", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	box, _ := decode(t, w)["box"].(map[string]interface{})
	if box["name"] != "Tools" {
		t.Errorf("box = %v", box)
	}

	if w := env.do(http.MethodGet, "/api/public/box/UNKNOWN000", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown code: status = %d, want 404", w.Code)
	}
}

func TestNewRouter_TestEmailOnlyInDevMode(t *testing.T) {
	prod := newRouterEnv(t, nil)
	if w := prod.do(http.MethodPost, "/api/test-email", prod.token); w.Code != http.StatusNotFound {
		t.Errorf("production: status = %d, want 404", w.Code)
	}
}

func TestNewRouter_LocalFilesRoute(t *testing.T) {
	ls, dir := newLocalStorage(t)
	if err := os.WriteFile(filepath.Join(dir, "x.jpg"), []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	r, bg := NewRouter(cfg, Dependencies{Storage: ls})
	t.Cleanup(bg.Shutdown)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/files/x.jpg", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Cross-Origin-Resource-Policy"); got != "cross-origin" {
		t.Errorf("Cross-Origin-Resource-Policy = %q, want cross-origin", got)
	}
}

func TestNewRouter_RateLimitersStartedWhenEnabled(t *testing.T) {
	env := newRouterEnv(t, func(cfg *config.Config) {
		cfg.Security.RateLimiting.Enabled = true
		cfg.Security.RateLimiting.Backend = "memory"
	})
	if got := len(env.bg.rateLimiters); got != 4 {
		t.Errorf("rate limiters = %d, want 4", got)
	}

	w := env.do(http.MethodGet, "/api/boxes", env.token)
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("missing X-RateLimit-Limit header")
	}
}

func TestNewRouter_RateLimitingDisabled(t *testing.T) {
	env := newRouterEnv(t, nil)
	if got := len(env.bg.rateLimiters); got != 0 {
		t.Errorf("rate limiters = %d, want 0", got)
	}
}

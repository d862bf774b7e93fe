// Package api wires together all HTTP routes for the BoxIT backend.
//
// Route grouping:
//   - /api/auth is public and rate limited per client IP before any database work.
//     /api/auth/me is the one account route that requires a session.
//   - /api/public/box/:qrCode is the unauthenticated QR landing lookup. It has its
//     own limiter so that code enumeration is throttled independently.
//   - Everything else under /api requires a Bearer session token, is rate limited
//     per user, and mutating requests are written to the audit trail.
//   - /v1/files serves item images when the local storage backend is configured to
//     serve them directly. Cloud backends hand out their own URLs.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/FilipRus/boxItFindIt/internal/api/accounts"
	"github.com/FilipRus/boxItFindIt/internal/api/inventory"
	"github.com/FilipRus/boxItFindIt/internal/auth"
	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/jobs"
	"github.com/FilipRus/boxItFindIt/internal/middleware"
	"github.com/FilipRus/boxItFindIt/internal/safego"
	"github.com/FilipRus/boxItFindIt/internal/storage"
	"github.com/FilipRus/boxItFindIt/internal/storage/local"
)

// Version is reported by /version and `server version`. Overridden at build time.
var Version = "0.1.0"

// Dependencies are the collaborators the router mounts. They are built once in
// cmd/server and injected; nil optional fields disable the feature that needs them.
type Dependencies struct {
	DB      *sql.DB
	Storage storage.Storage
	Tokens  *auth.TokenManager
	Users   middleware.UserLookup
	Audit   middleware.AuditWriter
	// Redis backs the shared rate limiter when security.rate_limiting.backend is redis.
	Redis *redis.Client

	Accounts accounts.AccountService
	Rooms    inventory.RoomService
	Boxes    inventory.BoxService
	Items    inventory.ItemService
	Labels   inventory.LabelService
	QR       inventory.QRService

	CleanupJob *jobs.TokenCleanupJob
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	cleanupJob   *jobs.TokenCleanupJob
	cancelJobs   context.CancelFunc
	rateLimiters []middleware.Limiter
	redis        *redis.Client
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.cleanupJob != nil {
		bg.cleanupJob.Stop()
	}
	if bg.cancelJobs != nil {
		bg.cancelJobs()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// limiters builds the four named limiters. With rate limiting disabled all of them
// are nil, which RateLimitMiddleware treats as pass-through.
type limiters struct {
	auth, general, upload, public middleware.Limiter
}

func newLimiters(cfg *config.Config, rdb *redis.Client) limiters {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		return limiters{}
	}
	if !strings.EqualFold(rl.Backend, "redis") {
		rdb = nil
	}

	general := middleware.DefaultRateLimitConfig()
	if rl.RequestsPerMinute > 0 {
		general.RequestsPerMinute = rl.RequestsPerMinute
	}
	if rl.Burst > 0 {
		general.BurstSize = rl.Burst
	}

	return limiters{
		auth:    middleware.NewLimiter("auth", middleware.AuthRateLimitConfig(), rdb),
		general: middleware.NewLimiter("general", general, rdb),
		upload:  middleware.NewLimiter("upload", middleware.UploadRateLimitConfig(), rdb),
		public:  middleware.NewLimiter("public", middleware.PublicRateLimitConfig(), rdb),
	}
}

func (l limiters) all() []middleware.Limiter {
	var out []middleware.Limiter
	for _, lim := range []middleware.Limiter{l.auth, l.general, l.upload, l.public} {
		if lim != nil {
			out = append(out, lim)
		}
	}
	return out
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	bg := &BackgroundServices{redis: deps.Redis}

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Storage))
	router.GET("/version", versionHandler())

	if ls, ok := deps.Storage.(*local.LocalStorage); ok && ls.ServeDirectly() {
		files := router.Group(local.FilesRoute)
		files.Use(middleware.SecurityHeadersMiddleware(middleware.FileSecurityHeadersConfig()))
		files.GET("/*filepath", serveFileHandler(ls))
		log.Printf("Serving local storage objects under %s", local.FilesRoute)
	}

	lim := newLimiters(cfg, deps.Redis)
	bg.rateLimiters = lim.all()

	authMW := middleware.AuthMiddleware(deps.Tokens, deps.Users)
	accountHandlers := accounts.NewHandlers(deps.Accounts)
	roomHandlers := inventory.NewRoomHandlers(deps.Rooms, deps.Boxes)
	boxHandlers := inventory.NewBoxHandlers(deps.Boxes)
	itemHandlers := inventory.NewItemHandlers(deps.Items, deps.Labels, cfg.Uploads.MaxImageBytes)
	labelHandlers := inventory.NewLabelHandlers(deps.Labels)
	qrHandlers := inventory.NewQRHandlers(deps.QR)

	apiGroup := router.Group("/api")
	apiGroup.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	{
		// Public account endpoints (no auth required, but rate limited)
		authGroup := apiGroup.Group("/auth")
		authGroup.Use(middleware.RateLimitMiddleware(lim.auth))
		{
			authGroup.POST("/signup", accountHandlers.Signup())
			authGroup.POST("/login", accountHandlers.Login())
			authGroup.GET("/verify", accountHandlers.Verify())
			authGroup.POST("/forgot-password", accountHandlers.ForgotPassword())
			authGroup.POST("/reset-password", accountHandlers.ResetPassword())
			authGroup.POST("/check-user", accountHandlers.CheckUser())
			authGroup.GET("/me", authMW, accountHandlers.Me())
		}

		apiGroup.GET("/public/box/:qrCode",
			middleware.RateLimitMiddleware(lim.public),
			boxHandlers.Public())

		// Authenticated-only endpoints
		authenticated := apiGroup.Group("")
		authenticated.Use(authMW)
		authenticated.Use(middleware.RateLimitMiddleware(lim.general))
		authenticated.Use(middleware.AuditMiddleware(deps.Audit, &cfg.Audit))
		{
			rooms := authenticated.Group("/storage-rooms")
			{
				rooms.GET("", roomHandlers.List())
				rooms.POST("", roomHandlers.Create())
				rooms.GET("/:id", roomHandlers.Get())
				rooms.PATCH("/:id", roomHandlers.Rename())
				rooms.DELETE("/:id", roomHandlers.Delete())
				rooms.GET("/:id/boxes", roomHandlers.ListBoxes())
				rooms.POST("/:id/boxes", roomHandlers.CreateBox())
			}

			boxes := authenticated.Group("/boxes")
			{
				boxes.GET("", boxHandlers.List())
				boxes.POST("", boxHandlers.Create())
				boxes.GET("/:id", boxHandlers.Get())
				boxes.PATCH("/:id", boxHandlers.Rename())
				boxes.DELETE("/:id", boxHandlers.Delete())
				boxes.POST("/:id/items",
					middleware.RateLimitMiddleware(lim.upload), // Stricter rate limit for uploads
					itemHandlers.Create())
			}

			items := authenticated.Group("/items")
			{
				items.GET("/:id", itemHandlers.Get())
				items.PATCH("/:id",
					middleware.RateLimitMiddleware(lim.upload),
					itemHandlers.Update())
				items.DELETE("/:id", itemHandlers.Delete())
				items.PUT("/:id/labels", itemHandlers.ReplaceLabels())
			}

			authenticated.GET("/labels", labelHandlers.List())
			authenticated.GET("/search", labelHandlers.Search())
			authenticated.POST("/qr", qrHandlers.Render())

			// Development-only
			if cfg.Server.DevMode {
				authenticated.POST("/test-email", accountHandlers.TestEmail())
			}
		}
	}

	if deps.CleanupJob != nil {
		ctx, cancel := context.WithCancel(context.Background())
		bg.cleanupJob = deps.CleanupJob
		bg.cancelJobs = cancel
		safego.Go("token-cleanup", func() { deps.CleanupJob.Start(ctx) })
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and the image storage backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler fails when image uploads would error, not only when the
// database is down.
func readinessHandler(db *sql.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Exists on a sentinel key exercises credentials and connectivity without writing.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging. The output format follows
// the global slog handler configured by telemetry.SetupLogger.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logRequest(c, level, latency, path, redactQuery(query))
	}
}

func logRequest(c *gin.Context, level slog.Level, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	attrs := []slog.Attr{
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	}
	if userID := middleware.CurrentUserID(c); userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if len(c.Errors) > 0 {
		attrs = append(attrs, slog.String("errors", c.Errors.String()))
	}
	slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
}

// redactQuery hides the one-time token of /api/auth/verify links.
func redactQuery(query string) string {
	if !strings.Contains(query, "token=") {
		return query
	}
	parts := strings.Split(query, "&")
	for i, p := range parts {
		if strings.HasPrefix(p, "token=") {
			parts[i] = "token=REDACTED"
		}
	}
	return strings.Join(parts, "&")
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

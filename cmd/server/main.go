// @title           BoxIT API
// @version         1.0.0
// @description     Home storage inventory: storage rooms, boxes with printable QR codes, items with images and labels.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session token from /api/auth/login: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints. Prometheus metrics are served on a dedicated port (default: 9090) at GET /metrics, outside the Gin router.

// Command server runs the BoxIT API.
//
//	server [serve]          run the API, applying migrations first
//	server migrate up|down  apply or roll back schema migrations and exit
//	server version          print the version
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/FilipRus/boxItFindIt/internal/api"
	"github.com/FilipRus/boxItFindIt/internal/audit"
	"github.com/FilipRus/boxItFindIt/internal/auth"
	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/db"
	"github.com/FilipRus/boxItFindIt/internal/db/repositories"
	"github.com/FilipRus/boxItFindIt/internal/email"
	"github.com/FilipRus/boxItFindIt/internal/images"
	"github.com/FilipRus/boxItFindIt/internal/jobs"
	"github.com/FilipRus/boxItFindIt/internal/qr"
	"github.com/FilipRus/boxItFindIt/internal/services"
	"github.com/FilipRus/boxItFindIt/internal/storage"
	"github.com/FilipRus/boxItFindIt/internal/telemetry"

	// storage backends register themselves in init
	_ "github.com/FilipRus/boxItFindIt/internal/storage/azure"
	_ "github.com/FilipRus/boxItFindIt/internal/storage/gcs"
	_ "github.com/FilipRus/boxItFindIt/internal/storage/local"
	_ "github.com/FilipRus/boxItFindIt/internal/storage/s3"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("boxit exited", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "version":
		fmt.Printf("BoxIT v%s\n", api.Version)
		return nil
	case "serve", "migrate":
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate or version)", command)
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if command == "migrate" {
		if len(args) < 2 {
			return errors.New("usage: server migrate <up|down>")
		}
		return migrateOnly(cfg, args[1])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, configPath)
}

func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Server.DevMode)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := telemetry.RegisterDBStats(database, cfg.Database.Name); err != nil {
		slog.Warn("db pool metrics unavailable", "error", err)
	}

	storageBackend, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close(storageBackend)

	deps, closeDeps, err := buildDependencies(cfg, database, storageBackend, tokens)
	if err != nil {
		return err
	}
	defer closeDeps()

	err = config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLogLevel(next.Logging.Level)
	})
	if err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		slog.Warn("config hot reload disabled", "error", err)
	}

	router, bg := api.NewRouter(cfg, deps)
	defer bg.Shutdown()

	apiServer := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	servers := []*http.Server{apiServer}
	// metrics stay off the public listener
	if m := cfg.Telemetry.Metrics; m.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:         fmt.Sprintf(":%d", m.PrometheusPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		})
	}

	slog.Info("starting server",
		"addr", apiServer.Addr,
		"base_url", cfg.Server.BaseURL,
		"app_url", cfg.Server.GetAppURL(),
		"tls", cfg.Security.TLS.Enabled,
		"metrics", cfg.Telemetry.Metrics.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(apiServer, cfg.Security.TLS) })
	for _, s := range servers[1:] {
		g.Go(func() error { return listen(s, config.TLSConfig{}) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			errs = append(errs, s.Shutdown(sctx))
		}
		return errors.Join(errs...)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// listen serves until Shutdown. A clean shutdown is not an error.
func listen(s *http.Server, tls config.TLSConfig) error {
	var err error
	if tls.Enabled {
		err = s.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = s.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("listen on %s: %w", s.Addr, err)
}

// openDatabase connects and brings the schema up to date.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port, "name", cfg.Database.Name, "ssl_mode", cfg.Database.SSLMode)
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.RunMigrations(database, "up"); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("could not read schema version", "error", err)
	} else {
		slog.Info("database ready", "schema_version", version, "dirty", dirty)
	}
	return database, nil
}

// openStorage builds the configured backend and creates its bucket when supported.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	backend, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	if ensurer, ok := backend.(storage.BucketEnsurer); ok {
		ectx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := ensurer.EnsureBucket(ectx); err != nil {
			storage.Close(backend)
			return nil, fmt.Errorf("prepare %s bucket: %w", cfg.Storage.DefaultBackend, err)
		}
	}
	slog.Info("storage ready", "backend", cfg.Storage.DefaultBackend)
	return backend, nil
}

// buildDependencies constructs repositories, services and the optional Redis client.
// The returned func closes the audit shippers.
func buildDependencies(cfg *config.Config, database *sql.DB, storageBackend storage.Storage, tokens *auth.TokenManager) (api.Dependencies, func(), error) {
	// Wrap *sql.DB with sqlx for the inventory repositories
	sqlxDB := sqlx.NewDb(database, "postgres")
	userRepo := repositories.NewUserRepository(database)
	auditRepo := repositories.NewAuditRepository(database)
	roomRepo := repositories.NewStorageRoomRepository(sqlxDB)
	boxRepo := repositories.NewBoxRepository(sqlxDB)
	itemRepo := repositories.NewItemRepository(sqlxDB)
	labelRepo := repositories.NewLabelRepository(sqlxDB)
	searchRepo := repositories.NewSearchRepository(sqlxDB)

	auditWriter, err := audit.NewFanout(auditRepo, cfg.Audit.Shipping)
	if err != nil {
		return api.Dependencies{}, nil, fmt.Errorf("configure audit shipping: %w", err)
	}
	if n := auditWriter.Shippers(); n > 0 {
		slog.Info("audit shipping enabled", "destinations", n)
	}

	var sender email.Sender
	if cfg.Email.Enabled {
		sender = email.NewSMTPSender(cfg.Email.SMTP)
		slog.Info("email delivery via smtp", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)
	} else {
		slog.Info("email delivery disabled, messages are logged")
	}
	mailer := email.NewMailer(sender, cfg.Server.BaseURL, cfg.Server.GetAppURL())

	imageStore := services.NewImageStore(storageBackend, images.NewProcessor(cfg.Uploads.MaxDimension, cfg.Uploads.MaxPixels), services.ImageConfig{
		MaxBytes:     cfg.Uploads.MaxImageBytes,
		AllowedTypes: cfg.Uploads.AllowedTypes,
		Folder:       cfg.Uploads.Folder,
	})

	var rdb *redis.Client
	if cfg.Security.RateLimiting.Enabled && strings.EqualFold(cfg.Security.RateLimiting.Backend, "redis") {
		rdb = newRedisClient(cfg.Security.RateLimiting.Redis)
	}

	deps := api.Dependencies{
		DB:      database,
		Storage: storageBackend,
		Tokens:  tokens,
		Users:   userRepo,
		Audit:   auditWriter,
		Redis:   rdb,

		Accounts: services.NewAccountService(userRepo, tokens, mailer, services.AccountConfig{
			BcryptCost:           cfg.Auth.BcryptCost,
			ResetTokenTTL:        cfg.Auth.ResetTokenTTL,
			RequireVerifiedEmail: cfg.Auth.RequireVerifiedEmail,
			AppURL:               cfg.Server.GetAppURL(),
		}),
		Rooms:  services.NewRoomService(roomRepo, boxRepo, imageStore),
		Boxes:  services.NewBoxService(boxRepo, roomRepo, itemRepo, imageStore),
		Items:  services.NewItemService(itemRepo, boxRepo, imageStore),
		Labels: services.NewLabelService(labelRepo, searchRepo),
		QR:     services.NewQRService(qr.NewRenderer(cfg.QR.Size), cfg.Server.GetAppURL()),

		CleanupJob: jobs.NewTokenCleanupJob(userRepo, auditRepo, cfg.Jobs, cfg.Audit),
	}
	closeFn := func() {
		if err := auditWriter.Close(); err != nil {
			slog.Warn("closing audit shippers", "error", err)
		}
	}
	return deps, closeFn, nil
}

func migrateOnly(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	slog.Info("migration complete", "direction", direction, "schema_version", version, "dirty", dirty)
	return nil
}

// newRedisClient connects the shared rate limiter backend. An unreachable
// server is only logged; the limiter lets requests through until it recovers.
func newRedisClient(cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, rate limiting fails open", "addr", cfg.Addr, "error", err)
	} else {
		slog.Info("rate limiting via redis", "addr", cfg.Addr)
	}
	return rdb
}

// Package config loads and validates the BoxIT configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the BOXIT_ prefix (e.g., BOXIT_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs with a config.yaml
// locally and with pure environment variables in containers.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Uploads   UploadsConfig   `mapstructure:"uploads"`
	Email     EmailConfig     `mapstructure:"email"`
	QR        QRConfig        `mapstructure:"qr"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
	// AppURL is the browser-facing frontend origin used in email links,
	// verification redirects and as the fallback origin for rendered QR codes.
	AppURL       string        `mapstructure:"app_url"`
	DevMode      bool          `mapstructure:"dev_mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAppURL returns the frontend URL, falling back to server.base_url.
func (s *ServerConfig) GetAppURL() string {
	if s.AppURL != "" {
		return strings.TrimRight(s.AppURL, "/")
	}
	return strings.TrimRight(s.BaseURL, "/")
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	CDNURL        string `mapstructure:"cdn_url"`
	// ServiceURL overrides https://<account>.blob.core.windows.net/, e.g. for Azurite.
	ServiceURL string `mapstructure:"service_url"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is optional, for MinIO, DigitalOcean Spaces, etc.
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// PublicURL overrides the URL prefix returned for stored images (CDN or public bucket).
	PublicURL string `mapstructure:"public_url"`

	// AuthMethod is one of "default", "static", "oidc", "assume_role".
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`

	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	// AuthMethod is one of "default", "service_account", "workload_identity".
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
	// PublicURL overrides the URL prefix returned for stored images.
	PublicURL string `mapstructure:"public_url"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath      string `mapstructure:"base_path"`
	ServeDirectly bool   `mapstructure:"serve_directly"`
}

// AuthConfig holds session token and password hashing configuration
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	// RequireVerifiedEmail blocks login until the verification link was followed.
	RequireVerifiedEmail bool `mapstructure:"require_verified_email"`
	// ResetTokenTTL is the lifetime of a password reset token.
	ResetTokenTTL time.Duration `mapstructure:"reset_token_ttl"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "memory" (per-process token buckets) or "redis" (shared across replicas).
	Backend           string      `mapstructure:"backend"`
	RequestsPerMinute int         `mapstructure:"requests_per_minute"`
	Burst             int         `mapstructure:"burst"`
	Redis             RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the connection settings for the shared rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// UploadsConfig holds item image upload limits
type UploadsConfig struct {
	MaxImageBytes int64    `mapstructure:"max_image_bytes"`
	AllowedTypes  []string `mapstructure:"allowed_types"`
	// MaxDimension bounds the longest edge of a stored image; larger images are downscaled.
	MaxDimension int `mapstructure:"max_dimension"`
	// MaxPixels caps width*height of an upload; larger images are rejected before decoding.
	MaxPixels int    `mapstructure:"max_pixels"`
	Folder    string `mapstructure:"folder"`
}

// EmailConfig holds transactional email settings
type EmailConfig struct {
	// Enabled toggles outbound email. When false, messages are logged instead of sent.
	Enabled bool       `mapstructure:"enabled"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds outbound mail server configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// QRConfig holds QR image rendering settings
type QRConfig struct {
	Size int `mapstructure:"size"`
}

// JobsConfig holds background job settings
type JobsConfig struct {
	TokenCleanupInterval time.Duration `mapstructure:"token_cleanup_interval"`
	// UnverifiedRetention is how long never-verified accounts are kept. Zero disables deletion.
	UnverifiedRetention time.Duration `mapstructure:"unverified_retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LogFailedRequests determines if failed requests (4xx/5xx) should be logged
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// Retention is how long audit entries are kept. Zero keeps them forever.
	Retention time.Duration       `mapstructure:"retention"`
	Shipping  AuditShippingConfig `mapstructure:"shipping"`
}

// AuditShippingConfig copies audit entries outside the database. Empty paths and URLs
// disable the corresponding destination.
type AuditShippingConfig struct {
	File    AuditFileConfig    `mapstructure:"file"`
	Webhook AuditWebhookConfig `mapstructure:"webhook"`
}

// AuditFileConfig holds the JSON lines audit file settings
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// AuditWebhookConfig holds the audit webhook settings
type AuditWebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// envKeys lists every leaf key of Config in dotted mapstructure form. Map fields
// are skipped since they cannot be expressed as a single variable.
func envKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, envKeys(f.Type, key)...)
		case reflect.Map:
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

// bindEnvVars binds BOXIT_* variables to every config key. AutomaticEnv alone
// does not populate nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	for _, key := range envKeys(reflect.TypeOf(Config{}), "") {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// newViper builds a Viper instance with defaults, config file lookup and env bindings.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/boxit")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("BOXIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

// decode unmarshals, expands secrets and validates.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Email.SMTP.Password = expandEnv(cfg.Email.SMTP.Password)
	cfg.Security.RateLimiting.Redis.Password = expandEnv(cfg.Security.RateLimiting.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.app_url", "http://localhost:3000")
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "boxit")
	v.SetDefault("database.user", "boxit")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.local.serve_directly", true)

	// Auth defaults
	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.require_verified_email", true)
	v.SetDefault("auth.reset_token_ttl", "1h")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.backend", "memory")
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.rate_limiting.redis.addr", "localhost:6379")
	v.SetDefault("security.tls.enabled", false)

	// Upload defaults
	v.SetDefault("uploads.max_image_bytes", 5*1024*1024)
	v.SetDefault("uploads.allowed_types", []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif"})
	v.SetDefault("uploads.max_dimension", 1200)
	v.SetDefault("uploads.max_pixels", 40_000_000)
	v.SetDefault("uploads.folder", "boxit/items")

	// Email defaults
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.from", "BoxIT <no-reply@boxit.local>")
	v.SetDefault("email.smtp.use_tls", true)

	// QR defaults
	v.SetDefault("qr.size", 500)

	// Job defaults
	v.SetDefault("jobs.token_cleanup_interval", "1h")
	v.SetDefault("jobs.unverified_retention", "720h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "boxit")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_failed_requests", false)
	v.SetDefault("audit.retention", "2160h")
	v.SetDefault("audit.shipping.file.max_size_mb", 100)
	v.SetDefault("audit.shipping.file.max_backups", 5)
	v.SetDefault("audit.shipping.webhook.timeout", "10s")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	return errors.Join(
		c.Server.validate(),
		c.Database.validate(),
		c.Storage.validate(),
		c.Auth.validate(c.Server.DevMode),
		c.Security.validate(),
		c.Uploads.validate(),
		c.Email.validate(),
		c.Logging.validate(),
	)
}

func required(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", key)
	}
	return nil
}

func (s *ServerConfig) validate() error {
	var port error
	if s.Port < 1 || s.Port > 65535 {
		port = fmt.Errorf("server.port %d is out of range", s.Port)
	}
	return errors.Join(port, required("server.base_url", s.BaseURL))
}

func (d *DatabaseConfig) validate() error {
	return errors.Join(
		required("database.host", d.Host),
		required("database.name", d.Name),
		required("database.user", d.User),
	)
}

func (s *StorageConfig) validate() error {
	switch s.DefaultBackend {
	case "azure":
		return errors.Join(
			required("storage.azure.account_name", s.Azure.AccountName),
			required("storage.azure.account_key", s.Azure.AccountKey),
			required("storage.azure.container_name", s.Azure.ContainerName),
		)
	case "s3":
		return errors.Join(
			required("storage.s3.bucket", s.S3.Bucket),
			required("storage.s3.region", s.S3.Region),
		)
	case "gcs":
		return required("storage.gcs.bucket", s.GCS.Bucket)
	case "local":
		return required("storage.local.base_path", s.Local.BasePath)
	}
	return fmt.Errorf("storage.default_backend %q is not one of azure, s3, gcs, local", s.DefaultBackend)
}

func (a *AuthConfig) validate(devMode bool) error {
	var errs []error
	if a.JWTSecret == "" && !devMode {
		errs = append(errs, errors.New("auth.jwt_secret is required outside dev mode"))
	}
	// zero falls back to bcrypt.DefaultCost
	if a.BcryptCost != 0 && (a.BcryptCost < 4 || a.BcryptCost > 31) {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost %d is outside 4..31", a.BcryptCost))
	}
	return errors.Join(errs...)
}

func (s *SecurityConfig) validate() error {
	var errs []error
	if rl := s.RateLimiting; rl.Enabled {
		switch rl.Backend {
		case "", "memory":
		case "redis":
			errs = append(errs, required("security.rate_limiting.redis.addr", rl.Redis.Addr))
		default:
			errs = append(errs, fmt.Errorf("security.rate_limiting.backend %q is not one of memory, redis", rl.Backend))
		}
	}
	if s.TLS.Enabled {
		errs = append(errs,
			required("security.tls.cert_file", s.TLS.CertFile),
			required("security.tls.key_file", s.TLS.KeyFile),
		)
	}
	return errors.Join(errs...)
}

func (u *UploadsConfig) validate() error {
	var errs []error
	if u.MaxImageBytes < 0 {
		errs = append(errs, errors.New("uploads.max_image_bytes must not be negative"))
	}
	if u.MaxPixels < 0 {
		errs = append(errs, errors.New("uploads.max_pixels must not be negative"))
	}
	return errors.Join(errs...)
}

func (e *EmailConfig) validate() error {
	if !e.Enabled {
		return nil
	}
	return errors.Join(
		required("email.smtp.host", e.SMTP.Host),
		required("email.smtp.from", e.SMTP.From),
	)
}

func (l *LoggingConfig) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", l.Level)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Package gcs stores item images in Google Cloud Storage. Stored images are addressed
// by their storage.googleapis.com URL or a configured CDN prefix.
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/FilipRus/boxItFindIt/internal/config"
	appstorage "github.com/FilipRus/boxItFindIt/internal/storage"
)

// Supported values of storage.gcs.auth_method. workload_identity relies on ADC like
// default does; it is accepted so deployments can state their intent.
const (
	AuthDefault          = "default"
	AuthServiceAccount   = "service_account"
	AuthWorkloadIdentity = "workload_identity"
)

func init() {
	appstorage.Register("gcs", func(cfg *config.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

type GCSStorage struct {
	client    *storage.Client
	bucket    string
	projectID string
	publicURL string
}

// New builds a client for cfg.Bucket.
func New(cfg *config.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.ProjectID,
		publicURL: publicBaseURL(cfg),
	}, nil
}

// clientOptions maps the auth settings to client options. An endpoint means an
// emulator, which takes no credentials.
func clientOptions(cfg *config.GCSStorageConfig) ([]option.ClientOption, error) {
	method := cfg.AuthMethod
	if method == "" {
		method = AuthDefault
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			method = AuthServiceAccount
		}
	}

	var opts []option.ClientOption
	switch method {
	case AuthServiceAccount:
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, errors.New("gcs service_account auth needs credentials_file or credentials_json")
		}
	case AuthDefault, AuthWorkloadIdentity:
	default:
		return nil, fmt.Errorf("unsupported gcs auth_method %q", method)
	}

	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if method != AuthServiceAccount {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts, nil
}

func publicBaseURL(cfg *config.GCSStorageConfig) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	return "https://storage.googleapis.com/" + cfg.Bucket
}

// Close releases the client; cmd/server calls it on shutdown.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(key)
}

// Upload streams r into the object while hashing it.
func (s *GCSStorage) Upload(ctx context.Context, key string, r io.Reader, _ int64, contentType string) (*appstorage.UploadResult, error) {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"

	h := sha256.New()
	n, err := io.Copy(w, io.TeeReader(r, h))
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gcs write %s: %w", key, err)
	}

	return &appstorage.UploadResult{
		Key:      key,
		URL:      s.PublicURL(key),
		Size:     n,
		Checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (s *GCSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return rc, nil
}

func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func (s *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs attrs %s: %w", key, err)
	}
	return true, nil
}

func (s *GCSStorage) PublicURL(key string) string {
	return s.publicURL + "/" + strings.TrimPrefix(key, "/")
}

func (s *GCSStorage) KeyFromURL(ref string) (string, bool) {
	return appstorage.TrimBaseURL(s.publicURL, ref)
}

// EnsureBucket creates the bucket in project_id when it does not exist yet.
func (s *GCSStorage) EnsureBucket(ctx context.Context) error {
	b := s.client.Bucket(s.bucket)
	_, err := b.Attrs(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, storage.ErrBucketNotExist):
		return fmt.Errorf("gcs bucket %s: %w", s.bucket, err)
	case s.projectID == "":
		return fmt.Errorf("gcs bucket %s does not exist and project_id is not set", s.bucket)
	}
	if err := b.Create(ctx, s.projectID, nil); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

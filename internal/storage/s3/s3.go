// Package s3 stores item images in AWS S3 or an S3-compatible service such as MinIO.
// Objects are addressed by a public URL: the virtual-hosted bucket URL, the path-style
// endpoint URL, or a configured CDN prefix.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/storage"
)

// Supported values of storage.s3.auth_method.
const (
	AuthDefault    = "default"
	AuthStatic     = "static"
	AuthOIDC       = "oidc"
	AuthAssumeRole = "assume_role"
)

// immutableCache is sent with every upload; image keys are random and never rewritten.
const immutableCache = "public, max-age=31536000, immutable"

func init() {
	storage.Register("s3", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.S3)
	})
}

// S3Storage is the S3 backend.
type S3Storage struct {
	client    *s3.Client
	bucket    string
	region    string
	publicURL string
}

// New validates cfg and builds a client. No request is made until first use.
func New(cfg *config.S3StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errors.New("s3 bucket and region are required")
	}

	method := resolveAuthMethod(cfg)
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}

	switch method {
	case AuthStatic:
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, errors.New("s3 static auth needs access_key_id and secret_access_key")
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	case AuthOIDC:
		if cfg.RoleARN == "" || cfg.WebIdentityTokenFile == "" {
			return nil, errors.New("s3 oidc auth needs role_arn and web_identity_token_file")
		}
	case AuthAssumeRole:
		if cfg.RoleARN == "" {
			return nil, errors.New("s3 assume_role auth needs role_arn")
		}
	case AuthDefault:
	default:
		return nil, fmt.Errorf("unsupported s3 auth_method %q", method)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if provider := roleProvider(method, cfg, awsCfg); provider != nil {
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		publicURL: publicBaseURL(cfg),
	}, nil
}

// resolveAuthMethod falls back to static when keys are present and no method is set.
func resolveAuthMethod(cfg *config.S3StorageConfig) string {
	if cfg.AuthMethod != "" {
		return cfg.AuthMethod
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		return AuthStatic
	}
	return AuthDefault
}

// roleProvider returns the STS-backed provider for the role based methods, nil otherwise.
func roleProvider(method string, cfg *config.S3StorageConfig, awsCfg aws.Config) aws.CredentialsProvider {
	switch method {
	case AuthOIDC:
		return stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(awsCfg),
			cfg.RoleARN,
			stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile),
			func(o *stscreds.WebIdentityRoleOptions) {
				if cfg.RoleSessionName != "" {
					o.RoleSessionName = cfg.RoleSessionName
				}
			},
		)
	case AuthAssumeRole:
		return stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.RoleSessionName != "" {
				o.RoleSessionName = cfg.RoleSessionName
			}
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
	}
	return nil
}

func publicBaseURL(cfg *config.S3StorageConfig) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return "https://" + cfg.Bucket + ".s3." + cfg.Region + ".amazonaws.com"
}

// Upload buffers the image (bounded by the upload limit) so the SDK can sign the body.
func (s *S3Storage) Upload(ctx context.Context, key string, r io.Reader, _ int64, contentType string) (*storage.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String(immutableCache),
		Metadata:      map[string]string{"sha256": checksum},
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return nil, fmt.Errorf("s3 put %s: %w", key, err)
	}

	return &storage.UploadResult{Key: key, URL: s.PublicURL(key), Size: int64(len(data)), Checksum: checksum}, nil
}

func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete succeeds for missing keys; S3 reports 204 either way.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3 head %s: %w", key, err)
	}
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var re *awshttp.ResponseError
	return errors.As(err, &nf) || errors.As(err, &nsk) ||
		(errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound)
}

func (s *S3Storage) PublicURL(key string) string {
	return s.publicURL + "/" + strings.TrimPrefix(key, "/")
}

func (s *S3Storage) KeyFromURL(ref string) (string, bool) {
	return storage.TrimBaseURL(s.publicURL, ref)
}

// EnsureBucket creates the bucket when HeadBucket fails.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

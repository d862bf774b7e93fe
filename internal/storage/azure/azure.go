// Package azure stores item images in Azure Blob Storage. Images are addressed by their
// blob URL, or by the CDN URL when one is configured.
package azure

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

type AzureStorage struct {
	container *container.Client
	publicURL string
}

// New authenticates with the account's shared key.
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	var missing []string
	for _, f := range [][2]string{
		{"account_name", cfg.AccountName},
		{"account_key", cfg.AccountKey},
		{"container_name", cfg.ContainerName},
	} {
		if f[1] == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("azure storage: missing %s", strings.Join(missing, ", "))
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid Azure shared key: %w", err)
	}
	serviceURL := serviceURL(cfg)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	publicURL := strings.TrimRight(cfg.CDNURL, "/")
	if publicURL == "" {
		publicURL = serviceURL + cfg.ContainerName
	}
	return newWithContainer(client.ServiceClient().NewContainerClient(cfg.ContainerName), publicURL), nil
}

func newWithContainer(c *container.Client, publicURL string) *AzureStorage {
	return &AzureStorage{container: c, publicURL: strings.TrimRight(publicURL, "/")}
}

// serviceURL always ends in a slash.
func serviceURL(cfg *config.AzureStorageConfig) string {
	if cfg.ServiceURL != "" {
		return strings.TrimRight(cfg.ServiceURL, "/") + "/"
	}
	return "https://" + cfg.AccountName + ".blob.core.windows.net/"
}

// Upload writes a block blob with the image's SHA-256 in its metadata.
func (s *AzureStorage) Upload(ctx context.Context, key string, r io.Reader, _ int64, contentType string) (*storage.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	cacheControl := "public, max-age=31536000, immutable"
	headers := &blob.HTTPHeaders{BlobCacheControl: &cacheControl}
	if contentType != "" {
		headers.BlobContentType = &contentType
	}
	opts := &blockblob.UploadOptions{
		HTTPHeaders: headers,
		Metadata:    map[string]*string{"sha256": &checksum},
	}
	if _, err := s.container.NewBlockBlobClient(key).Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), opts); err != nil {
		return nil, fmt.Errorf("azure upload %s: %w", key, err)
	}

	return &storage.UploadResult{Key: key, URL: s.PublicURL(key), Size: int64(len(data)), Checksum: checksum}, nil
}

func (s *AzureStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.container.NewBlobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("azure download %s: %w", key, err)
	}
	return resp.Body, nil
}

func (s *AzureStorage) Delete(ctx context.Context, key string) error {
	_, err := s.container.NewBlobClient(key).Delete(ctx, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("azure delete %s: %w", key, err)
	}
	return nil
}

func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.container.NewBlobClient(key).GetProperties(ctx, nil)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("azure properties %s: %w", key, err)
	}
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var re *azcore.ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// PublicURL escapes each path segment of key.
func (s *AzureStorage) PublicURL(key string) string {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return s.publicURL + "/" + strings.Join(parts, "/")
}

func (s *AzureStorage) KeyFromURL(ref string) (string, bool) {
	return storage.TrimBaseURL(s.publicURL, ref)
}

// EnsureBucket creates the container; an existing one is fine.
func (s *AzureStorage) EnsureBucket(ctx context.Context) error {
	_, err := s.container.Create(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

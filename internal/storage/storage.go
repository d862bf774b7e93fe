// Package storage defines the Storage interface shared by the image storage
// backends (local, s3, gcs, azure) and helpers for object keys and references.
//
// New backends are added by implementing the Storage interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Storage stores item images and resolves them to public URLs
type Storage interface {
	// Upload stores the object under key and returns its key, URL and checksum
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*UploadResult, error)

	// Download retrieves an object
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists under key
	Exists(ctx context.Context, key string) (bool, error)

	// PublicURL returns the URL clients use to fetch key
	PublicURL(key string) string

	// KeyFromURL maps a URL returned by PublicURL back to its key.
	// ok is false when the URL does not belong to this backend.
	KeyFromURL(ref string) (key string, ok bool)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Key is the object key inside the backend
	Key string

	// URL is the public reference persisted on the item
	URL string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}

// NewObjectKey returns a fresh key under folder with the given extension.
func NewObjectKey(folder, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := uuid.New().String()
	if ext != "" {
		name += "." + ext
	}
	return path.Join(strings.Trim(folder, "/"), name)
}

// TrimBaseURL strips base from ref and returns the unescaped remainder.
// Query strings and fragments are dropped.
func TrimBaseURL(base, ref string) (string, bool) {
	if base == "" {
		return "", false
	}
	base = strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(ref, base) {
		return "", false
	}
	key := strings.TrimPrefix(ref, base)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	key, err := url.PathUnescape(key)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// DeleteReference deletes the object a persisted reference points to. The
// reference is either a URL produced by s or a bare key.
func DeleteReference(ctx context.Context, s Storage, ref string) error {
	if ref == "" {
		return nil
	}
	key, ok := s.KeyFromURL(ref)
	if !ok {
		if strings.Contains(ref, "://") {
			return fmt.Errorf("reference %q does not belong to this storage backend", ref)
		}
		key = strings.TrimPrefix(ref, "/")
	}
	return s.Delete(ctx, key)
}

// BucketEnsurer is implemented by cloud backends that can create their bucket or container at startup.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// Close releases the backend's resources when it holds any.
func Close(s Storage) {
	c, ok := s.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("closing storage backend", "error", err)
	}
}

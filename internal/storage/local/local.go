// Package local keeps item images on the local filesystem and lets the API
// serve them under /v1/files. It suits development and single-node installs;
// several replicas would need a shared volume.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/storage"
)

// FilesRoute is the URL prefix the API serves local objects under.
const FilesRoute = "/v1/files"

// ErrInvalidKey is returned for keys that would resolve outside the base directory.
var ErrInvalidKey = errors.New("invalid object key")

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local, cfg.Server.BaseURL)
	})
}

// LocalStorage stores objects below a base directory. Every file operation
// goes through an os.Root, so symlinks cannot lead outside it either.
type LocalStorage struct {
	root          *os.Root
	basePath      string
	serveDirectly bool
	filesURL      string
}

// New creates the base directory if needed and opens it.
func New(cfg *config.LocalStorageConfig, serverBaseURL string) (*LocalStorage, error) {
	base := filepath.Clean(cfg.BasePath)
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	root, err := os.OpenRoot(base)
	if err != nil {
		return nil, fmt.Errorf("open storage directory: %w", err)
	}
	return &LocalStorage{
		root:          root,
		basePath:      base,
		serveDirectly: cfg.ServeDirectly,
		filesURL:      strings.TrimRight(serverBaseURL, "/") + FilesRoute,
	}, nil
}

// Close releases the base directory handle.
func (s *LocalStorage) Close() error { return s.root.Close() }

// ServeDirectly reports whether the API should mount FilesRoute for this backend.
func (s *LocalStorage) ServeDirectly() bool { return s.serveDirectly }

// name converts a slash separated key to a path relative to the root.
func name(key string) (string, error) {
	p := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	if !filepath.IsLocal(p) {
		return "", ErrInvalidKey
	}
	return p, nil
}

// Resolve maps key to an absolute path inside the base directory.
func (s *LocalStorage) Resolve(key string) (string, error) {
	p, err := name(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, p), nil
}

// Upload writes to a temporary sibling and renames it into place, so readers
// never see a partial object.
func (s *LocalStorage) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) (*storage.UploadResult, error) {
	p, err := name(key)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(p); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	tmp := p + ".part-" + uuid.NewString()
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, sum), reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = s.root.Rename(tmp, p)
	}
	if err != nil {
		_ = s.root.Remove(tmp)
		return nil, fmt.Errorf("write %s: %w", key, err)
	}

	return &storage.UploadResult{
		Key:      key,
		URL:      s.PublicURL(key),
		Size:     n,
		Checksum: hex.EncodeToString(sum.Sum(nil)),
	}, nil
}

// Download opens the object. A missing object yields an error wrapping fs.ErrNotExist.
func (s *LocalStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := name(key)
	if err != nil {
		return nil, err
	}
	f, err := s.root.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Delete removes an object and then every parent directory it left empty.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	p, err := name(key)
	if err != nil {
		return err
	}
	if err := s.root.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	for dir := filepath.Dir(p); dir != "."; dir = filepath.Dir(dir) {
		if s.root.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Exists reports whether key names a stored object.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	p, err := name(key)
	if err != nil {
		return false, err
	}
	_, err = s.root.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

// PublicURL returns the API URL serving key.
func (s *LocalStorage) PublicURL(key string) string {
	return s.filesURL + "/" + (&url.URL{Path: path.Clean("/" + key)}).EscapedPath()[1:]
}

// KeyFromURL maps a URL produced by PublicURL back to its key.
func (s *LocalStorage) KeyFromURL(ref string) (string, bool) {
	return storage.TrimBaseURL(s.filesURL, ref)
}

package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/images"
	"github.com/FilipRus/boxItFindIt/internal/storage"
	"github.com/FilipRus/boxItFindIt/internal/telemetry"
	"github.com/FilipRus/boxItFindIt/internal/validation"
)

// ImageUpload is a raw image taken from a multipart request.
type ImageUpload struct {
	Reader      io.Reader
	ContentType string
	Filename    string
}

// ImageConfig holds upload limits from config.Uploads.
type ImageConfig struct {
	MaxBytes     int64
	AllowedTypes []string
	Folder       string
}

// ImageStore validates, processes and stores item images, and removes them best effort.
type ImageStore struct {
	storage   storage.Storage
	processor ImageProcessor
	cfg       ImageConfig
}

// NewImageStore creates an ImageStore. A nil processor stores images unmodified.
func NewImageStore(s storage.Storage, processor ImageProcessor, cfg ImageConfig) *ImageStore {
	if cfg.Folder == "" {
		cfg.Folder = "boxit/items"
	}
	return &ImageStore{storage: s, processor: processor, cfg: cfg}
}

// preparedImage is a validated image ready to be uploaded.
type preparedImage struct {
	data        []byte
	contentType string
	ext         string
}

// Prepare validates the upload and runs the processor. It never touches storage, so
// it can run before any mutation.
func (s *ImageStore) Prepare(up *ImageUpload) (*preparedImage, error) {
	data, contentType, err := validation.ReadImage(up.Reader, up.ContentType, s.cfg.MaxBytes, s.cfg.AllowedTypes)
	if err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}

	img := &preparedImage{data: data, contentType: contentType, ext: extForType(contentType)}
	if s.processor == nil {
		return img, nil
	}
	res, err := s.processor.Process(data)
	if err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}
	img.data, img.contentType, img.ext = res.Data, res.ContentType, res.Ext
	return img, nil
}

// Upload stores a prepared image and returns its public reference.
func (s *ImageStore) Upload(ctx context.Context, img *preparedImage) (string, error) {
	key := storage.NewObjectKey(s.cfg.Folder, img.ext)
	res, err := s.storage.Upload(ctx, key, bytes.NewReader(img.data), int64(len(img.data)), img.contentType)
	telemetry.ImageUploadsTotal.WithLabelValues(telemetry.Outcome(err)).Inc()
	if err != nil {
		return "", apperr.Upstream("Failed to upload image", err)
	}
	telemetry.ImageUploadBytes.Observe(float64(len(img.data)))
	slog.Debug("image uploaded", "key", res.Key, "size", len(img.data))
	return res.URL, nil
}

// Delete removes the object behind ref. Failures are logged and never returned.
func (s *ImageStore) Delete(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	err := storage.DeleteReference(ctx, s.storage, ref)
	telemetry.ImageDeletesTotal.WithLabelValues(telemetry.Outcome(err)).Inc()
	if err != nil {
		slog.Warn("failed to delete image", "ref", ref, "error", err)
	}
}

// DeleteAll removes every reference best effort.
func (s *ImageStore) DeleteAll(ctx context.Context, refs []string) {
	for _, ref := range refs {
		s.Delete(ctx, ref)
	}
}

func extForType(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	}
	return "bin"
}

var _ ImageProcessor = (*images.Processor)(nil)

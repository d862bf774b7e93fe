// Package validation checks user input before any data is persisted: uploaded item images
// (declared and sniffed content type, size limit), label lists submitted as JSON strings,
// and the account fields used at signup and password reset. Validators run before any
// mutation so invalid requests are rejected without touching storage or the database.
package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// MaxImageSize is the default upload limit for item images (5MB)
	MaxImageSize = 5 * 1024 * 1024
)

// DefaultImageTypes are the content types accepted for item images.
var DefaultImageTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif"}

var (
	ErrImageTooLarge   = errors.New("image exceeds the maximum upload size")
	ErrImageType       = errors.New("unsupported image type")
	ErrImageEmpty      = errors.New("image is empty")
	ErrImageMismatched = errors.New("image content does not match its declared type")
)

// normalizeImageType maps aliases to the canonical media type.
func normalizeImageType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return "image/jpeg"
	}
	return ct
}

func typeAllowed(ct string, allowed []string) bool {
	for _, a := range allowed {
		if normalizeImageType(a) == ct {
			return true
		}
	}
	return false
}

// ReadImage validates and reads an uploaded image. The declared content type must be in
// allowed, the payload must not exceed maxSize, and the sniffed content type must agree
// with an allowed image type. It returns the bytes and the canonical content type.
func ReadImage(reader io.Reader, declaredType string, maxSize int64, allowed []string) ([]byte, string, error) {
	if maxSize <= 0 {
		maxSize = MaxImageSize
	}
	if len(allowed) == 0 {
		allowed = DefaultImageTypes
	}

	declared := normalizeImageType(declaredType)
	if !typeAllowed(declared, allowed) {
		return nil, "", fmt.Errorf("%w: %s", ErrImageType, declaredType)
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrImageEmpty
	}
	if int64(len(data)) > maxSize {
		return nil, "", fmt.Errorf("%w (%d bytes)", ErrImageTooLarge, maxSize)
	}

	sniffed := normalizeImageType(http.DetectContentType(data))
	if !strings.HasPrefix(sniffed, "image/") || !typeAllowed(sniffed, allowed) {
		return nil, "", fmt.Errorf("%w: detected %s", ErrImageMismatched, sniffed)
	}
	return data, sniffed, nil
}

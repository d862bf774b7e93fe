// Package qr renders box QR codes as PNG data URIs.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered edge length in pixels.
const DefaultSize = 500

var ErrEmptyContent = errors.New("qr content is empty")

// Renderer encodes text into a QR code image.
type Renderer struct {
	size  int
	level qrcode.RecoveryLevel
}

// NewRenderer returns a Renderer producing size x size images. size <= 0 uses DefaultSize.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{size: size, level: qrcode.Medium}
}

// Size returns the configured edge length.
func (r *Renderer) Size() int { return r.size }

// PNG renders content as PNG bytes.
func (r *Renderer) PNG(content string) ([]byte, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	png, err := qrcode.Encode(content, r.level, r.size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}

// DataURI renders content as a base64 "data:image/png" URI suitable for an <img> src.
func (r *Renderer) DataURI(content string) (string, error) {
	png, err := r.PNG(content)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// BoxURL returns the public page address for a box code under origin.
func BoxURL(origin, qrCode string) string {
	return strings.TrimRight(origin, "/") + "/box/" + url.PathEscape(qrCode)
}

// ResolveOrigin picks the origin to embed in a QR code: the Origin header, else the
// Referer reduced to scheme and host, else fallback.
func ResolveOrigin(originHeader, referer, fallback string) string {
	if o := strings.TrimRight(strings.TrimSpace(originHeader), "/"); o != "" && o != "null" {
		return o
	}
	if referer != "" {
		if u, err := url.Parse(referer); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return strings.TrimRight(fallback, "/")
}

package services

import (
	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/auth"
	"github.com/FilipRus/boxItFindIt/internal/qr"
	"github.com/FilipRus/boxItFindIt/internal/telemetry"
)

// QRRenderer turns a URL into an image data URI.
type QRRenderer interface {
	DataURI(content string) (string, error)
}

// QRService renders the public box link for a QR code.
type QRService struct {
	renderer QRRenderer
	appURL   string
}

// NewQRService creates a QRService. appURL is the fallback origin.
func NewQRService(renderer QRRenderer, appURL string) *QRService {
	return &QRService{renderer: renderer, appURL: appURL}
}

// Render returns a PNG data URI encoding <origin>/box/<code>. origin and referer come
// from the request headers.
func (s *QRService) Render(code, originHeader, referer string) (string, error) {
	if code == "" {
		return "", apperr.Invalidf("QR code is required")
	}
	if !auth.ValidQRCode(code) {
		return "", apperr.Invalidf("Invalid QR code")
	}
	origin := qr.ResolveOrigin(originHeader, referer, s.appURL)
	uri, err := s.renderer.DataURI(qr.BoxURL(origin, code))
	if err != nil {
		return "", apperr.Upstream("Failed to generate QR code", err)
	}
	telemetry.QRCodesRenderedTotal.Inc()
	return uri, nil
}

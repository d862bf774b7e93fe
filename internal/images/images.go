// Package images normalizes uploaded item photos before they are stored:
// oversized images are downscaled to fit a bounding box and re-encoded.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // registers the webp decoder
)

// ErrUndecodable is returned when the payload is not a decodable image.
var ErrUndecodable = errors.New("image could not be decoded")

const jpegQuality = 85

// DefaultMaxPixels caps width*height when no limit is configured. Decoding allocates
// about four bytes per pixel, so this keeps a single upload near 160 MB.
const DefaultMaxPixels = 40_000_000

// Result is a processed image ready for upload.
type Result struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
	Resized     bool
}

// Processor downsizes images whose longest side exceeds MaxDimension and refuses
// images with more than MaxPixels pixels.
type Processor struct {
	MaxDimension int
	MaxPixels    int
}

// NewProcessor returns a Processor. maxDimension <= 0 disables resizing and
// maxPixels <= 0 selects DefaultMaxPixels.
func NewProcessor(maxDimension, maxPixels int) *Processor {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Processor{MaxDimension: maxDimension, MaxPixels: maxPixels}
}

// Process decodes data and, when it is larger than the bounding box, scales it
// down preserving aspect ratio. Images already within bounds keep their
// original bytes. Animated GIFs are never re-encoded. Only the header is read
// before the pixel limit is enforced.
func (p *Processor) Process(data []byte) (*Result, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if limit := p.maxPixels(); int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrUndecodable, cfg.Width, cfg.Height, limit)
	}

	res := &Result{
		Data:        data,
		ContentType: "image/" + format,
		Ext:         extFor(format),
		Width:       cfg.Width,
		Height:      cfg.Height,
	}

	w, h := fit(cfg.Width, cfg.Height, p.MaxDimension)
	if w == cfg.Width && h == cfg.Height {
		return res, nil
	}
	if format == "gif" && isAnimated(data) {
		return res, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	switch {
	case format == "png" || format == "gif" || !isOpaque(src):
		// PNG keeps transparency
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		res.ContentType, res.Ext = "image/png", "png"
	default:
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
		res.ContentType, res.Ext = "image/jpeg", "jpg"
	}

	res.Data = buf.Bytes()
	res.Width, res.Height = w, h
	res.Resized = true
	return res, nil
}

func (p *Processor) maxPixels() int64 {
	if p.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return int64(p.MaxPixels)
}

// fit scales (w, h) down so the longest side is at most max.
func fit(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return true
}

func isAnimated(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	return err == nil && len(g.Image) > 1
}

func extFor(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

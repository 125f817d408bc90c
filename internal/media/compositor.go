// Package media composites a transparent overlay (frames, doodles) onto a
// captured photo.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// Errors surfaced by the compositor.
var (
	ErrInvalidImage   = errors.New("invalid image")
	ErrInvalidQuality = errors.New("invalid jpeg quality")
)

// Compositor merges an overlay image onto a base image and returns JPEG bytes.
type Compositor interface {
	Composite(baseImage []byte, overlayImage []byte, quality int) ([]byte, error)
}

// DrawCompositor is the in-process Compositor. The overlay is scaled to the
// base image's bounds and alpha-composited over it.
type DrawCompositor struct{}

// NewDrawCompositor returns the stdlib-backed compositor.
func NewDrawCompositor() *DrawCompositor {
	return &DrawCompositor{}
}

// Composite decodes both inputs, scales the overlay onto the base, and
// encodes the result as JPEG with the given quality (1..100).
func (compositor *DrawCompositor) Composite(baseImage []byte, overlayImage []byte, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}
	base, _, err := image.Decode(bytes.NewReader(baseImage))
	if err != nil {
		return nil, fmt.Errorf("%w: base: %v", ErrInvalidImage, err)
	}
	overlay, _, err := image.Decode(bytes.NewReader(overlayImage))
	if err != nil {
		return nil, fmt.Errorf("%w: overlay: %v", ErrInvalidImage, err)
	}

	bounds := base.Bounds()
	canvas := image.NewRGBA(bounds)
	xdraw.Draw(canvas, bounds, base, bounds.Min, xdraw.Src)
	xdraw.CatmullRom.Scale(canvas, bounds, overlay, overlay.Bounds(), xdraw.Over, nil)

	var buffer bytes.Buffer
	if err := jpeg.Encode(&buffer, canvas, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrInvalidImage, err)
	}
	return buffer.Bytes(), nil
}

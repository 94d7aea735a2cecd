package pipeline

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

const (
	DefaultMaxPixels = 50_000_000

	// GIF stores canvas and frame sizes as 16-bit values.
	maxGIFDimension = 65535
)

type DecodeLimits struct {
	MaxPixels int64
}

func (l DecodeLimits) check(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, width, height)
	}
	if width > maxGIFDimension || height > maxGIFDimension {
		return fmt.Errorf("%w: dimensions %dx%d exceed %d", ErrDecode, width, height, maxGIFDimension)
	}

	maxPixels := l.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if int64(width)*int64(height) > maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, width, height, maxPixels)
	}
	return nil
}

// toNRGBA converts any decoded image into 8-bit non-premultiplied RGBA anchored at
// the origin, with a tightly packed w*h*4 pixel buffer.
func toNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	if n, ok := src.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n
	}

	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

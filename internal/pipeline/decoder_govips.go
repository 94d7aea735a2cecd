//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"image"
	_ "image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsDecoder lets libvips sniff and decode, which adds heif, avif and svg on top
// of the formats the image package knows.
type govipsDecoder struct {
	limits DecodeLimits
}

func (d govipsDecoder) Decode(ctx context.Context, data []byte) (*image.NRGBA, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	imageType := vips.DetermineImageType(data)
	if imageType == vips.ImageTypeUnknown {
		return nil, "", ErrUnsupportedFormat
	}
	format := vips.ImageTypes[imageType]

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}
	defer img.Close()

	if err := d.limits.check(img.Width(), img.Height()); err != nil {
		return nil, "", err
	}

	out, err := img.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}

	return toNRGBA(out), format, nil
}

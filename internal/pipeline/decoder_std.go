package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// stdlibDecoder sniffs the format from magic bytes using the codecs registered with
// the image package.
type stdlibDecoder struct {
	limits DecodeLimits
}

func (d stdlibDecoder) Decode(ctx context.Context, data []byte) (*image.NRGBA, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return nil, "", fmt.Errorf("%w: read %s header: %w", ErrDecode, format, err)
	}

	if err := d.limits.check(cfg.Width, cfg.Height); err != nil {
		return nil, "", err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}

	return toNRGBA(img), format, nil
}

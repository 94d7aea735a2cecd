package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"

	"golang.org/x/image/draw"
)

const (
	// DefaultFrameDelay is the per-frame delay in hundredths of a second. The output
	// is visually static, so the value only has to keep the animation well-formed.
	DefaultFrameDelay = 50

	maxPaletteSize = 256

	// GIF transparency is binary; alpha below this is written as the transparent index.
	alphaThreshold = 0x80

	transparentKey = uint32(1 << 24)
)

// ditherPalette is used when a frame has more colors than a GIF palette can hold.
// Index 0 is reserved for transparency.
var ditherPalette = append(color.Palette{color.RGBA{}}, palette.WebSafe...)

// TwoFrameAssembler encodes an image as a placeholder frame followed by the image
// itself, so frame-count heuristics see an animation while viewers see the image.
type TwoFrameAssembler struct {
	FrameDelay int
}

func (a TwoFrameAssembler) Assemble(img *image.NRGBA) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: image is required", ErrEncode)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrEncode, width, height)
	}

	delay := a.FrameDelay
	if delay <= 0 {
		delay = DefaultFrameDelay
	}

	placeholder := image.NewNRGBA(image.Rect(0, 0, width, height))

	doc := &gif.GIF{
		Image:    []*image.Paletted{palettize(placeholder), palettize(img)},
		Delay:    []int{delay, delay},
		Disposal: []byte{gif.DisposalNone, gif.DisposalNone},
		// Play once so viewers stop on the real image.
		LoopCount: -1,
		// No ColorModel: every frame carries its own local color table.
		Config: image.Config{Width: width, Height: height},
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// palettize maps img onto a frame anchored at the origin. Frames with at most 256
// distinct colors get an exact palette; larger ones are dithered.
func palettize(img *image.NRGBA) *image.Paletted {
	if pm, ok := exactPaletted(img); ok {
		return pm
	}
	return ditheredPaletted(img)
}

func exactPaletted(img *image.NRGBA) (*image.Paletted, bool) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	pm := image.NewPaletted(image.Rect(0, 0, width, height), make(color.Palette, 0, maxPaletteSize))
	index := make(map[uint32]uint8, maxPaletteSize)

	var (
		lastKey   uint32
		lastIndex uint8
		haveLast  bool
	)
	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		dst := pm.Pix[y*pm.Stride : y*pm.Stride+width]
		for x := 0; x < width; x++ {
			key := colorKey(src[4*x : 4*x+4])
			if haveLast && key == lastKey {
				dst[x] = lastIndex
				continue
			}

			i, ok := index[key]
			if !ok {
				if len(pm.Palette) == maxPaletteSize {
					return nil, false
				}
				i = uint8(len(pm.Palette))
				index[key] = i
				pm.Palette = append(pm.Palette, keyColor(key))
			}
			dst[x] = i
			lastKey, lastIndex, haveLast = key, i, true
		}
	}
	return pm, true
}

func ditheredPaletted(img *image.NRGBA) *image.Paletted {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	// Dither an opaque copy so error diffusion never lands on the transparent entry,
	// then punch the transparent pixels back in.
	opaque := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		dst := opaque.Pix[y*opaque.Stride : y*opaque.Stride+4*width]
		copy(dst, src[:4*width])
		for x := 3; x < len(dst); x += 4 {
			dst[x] = 0xff
		}
	}

	pm := image.NewPaletted(opaque.Bounds(), ditherPalette)
	draw.FloydSteinberg.Draw(pm, pm.Bounds(), opaque, image.Point{})

	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		dst := pm.Pix[y*pm.Stride : y*pm.Stride+width]
		for x := 0; x < width; x++ {
			if src[4*x+3] < alphaThreshold {
				dst[x] = 0
			}
		}
	}
	return pm
}

func colorKey(px []uint8) uint32 {
	if px[3] < alphaThreshold {
		return transparentKey
	}
	return uint32(px[0])<<16 | uint32(px[1])<<8 | uint32(px[2])
}

func keyColor(key uint32) color.Color {
	if key == transparentKey {
		return color.RGBA{}
	}
	return color.RGBA{R: uint8(key >> 16), G: uint8(key >> 8), B: uint8(key), A: 0xff}
}

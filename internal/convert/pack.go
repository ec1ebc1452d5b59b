package convert

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"epdpi/internal/palette"
)

var (
	// ErrDimensions is returned when the image is neither w x h nor h x w.
	// Callers substitute a blank canvas instead of sending malformed data.
	ErrDimensions = errors.New("convert: invalid image dimensions")
	// ErrOddPixels means the canvas cannot be packed two pixels per byte.
	ErrOddPixels = errors.New("convert: pixel count must be even")
)

// BufferSize is the packed buffer length for a w x h panel.
func BufferSize(w, h int) int {
	return w * h / 2
}

// Encode turns img into the panel's wire buffer.
//
//   - w x h images are used as is; h x w images are rotated 90°
//     counter-clockwise first; anything else is ErrDimensions.
//   - Pixels are quantized to the 7-entry panel palette, with
//     Floyd-Steinberg error diffusion when dither is set.
//   - Two 4-bit palette indices are packed per byte, left pixel in the high
//     nibble, row-major: byte[i] = idx[2i]<<4 | idx[2i+1].
//
// The result is always exactly w*h/2 bytes.
func Encode(img image.Image, w, h int, dither bool) ([]byte, error) {
	if (w*h)%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrOddPixels, w, h)
	}

	src, err := orient(img, w, h)
	if err != nil {
		return nil, err
	}

	return pack(quantize(src, w, h, dither)), nil
}

// orient validates the image size and normalizes portrait input.
func orient(img image.Image, w, h int) (image.Image, error) {
	b := img.Bounds()
	switch {
	case b.Dx() == w && b.Dy() == h:
		return img, nil
	case b.Dx() == h && b.Dy() == w:
		return imaging.Rotate90(img), nil
	default:
		return nil, fmt.Errorf("%w: got %dx%d, expected %dx%d", ErrDimensions, b.Dx(), b.Dy(), w, h)
	}
}

func quantize(src image.Image, w, h int, dither bool) *image.Paletted {
	dst := image.NewPaletted(image.Rect(0, 0, w, h), palette.Palette())
	if dither {
		xdraw.FloydSteinberg.Draw(dst, dst.Bounds(), src, src.Bounds().Min)
	} else {
		xdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
	}
	return dst
}

// pack walks the paletted stride directly to avoid At() calls.
func pack(p *image.Paletted) []byte {
	w, h := p.Rect.Dx(), p.Rect.Dy()
	out := make([]byte, BufferSize(w, h))

	n := 0
	var hi byte
	odd := false
	for y := 0; y < h; y++ {
		row := p.Pix[y*p.Stride : y*p.Stride+w]
		for _, idx := range row {
			if !odd {
				hi = idx & 0x0F
				odd = true
				continue
			}
			out[n] = hi<<4 | idx&0x0F
			n++
			odd = false
		}
	}
	return out
}

// Blank returns a w x h buffer filled with a single panel color.
func Blank(w, h int, code palette.Code) []byte {
	v := byte(code&0x0F)<<4 | byte(code&0x0F)
	out := make([]byte, BufferSize(w, h))
	for i := range out {
		out[i] = v
	}
	return out
}

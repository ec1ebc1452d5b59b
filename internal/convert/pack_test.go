package convert

import (
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epdpi/internal/palette"
)

// The 7.3" panel the daemon ships for.
const (
	panelW = 800
	panelH = 480
)

func fill(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestEncodeSizeIsAlwaysHalfPixelCount(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	noise := image.NewRGBA(image.Rect(0, 0, panelW, panelH))
	rnd.Read(noise.Pix)

	for _, tc := range []struct {
		name string
		img  image.Image
	}{
		{"black", fill(panelW, panelH, color.Black)},
		{"white", fill(panelW, panelH, color.White)},
		{"noise", noise},
		{"portrait", fill(panelH, panelW, color.RGBA{0, 0, 0xFF, 0xFF})},
	} {
		for _, dither := range []bool{true, false} {
			buf, err := Encode(tc.img, panelW, panelH, dither)
			require.NoError(t, err, tc.name)
			assert.Len(t, buf, panelW*panelH/2, tc.name)
		}
	}
}

func TestEncodePacksHighNibbleFirst(t *testing.T) {
	// 4x2 canvas: row 0 = black white yellow red, row 1 = blue green white black
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	row := []palette.Code{
		palette.CodeBlack, palette.CodeWhite, palette.CodeYellow, palette.CodeRed,
		palette.CodeBlue, palette.CodeGreen, palette.CodeWhite, palette.CodeBlack,
	}
	for i, code := range row {
		img.Set(i%4, i/4, palette.RGBA(code))
	}

	buf, err := Encode(img, 4, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x23, 0x56, 0x10}, buf)
}

func TestEncodeQuantizesToNearest(t *testing.T) {
	img := fill(2, 2, color.RGBA{0xF0, 0x10, 0x10, 0xFF}) // almost red
	buf, err := Encode(img, 2, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x33, 0x33}, buf)
}

func TestEncodeRotatesPortrait(t *testing.T) {
	// 2 wide x 4 tall; only the top-left pixel is white.
	img := fill(2, 4, color.Black)
	img.Set(0, 0, color.White)

	buf, err := Encode(img, 4, 2, false)
	require.NoError(t, err)
	// Rotating 90° counter-clockwise moves the top-left pixel to the
	// bottom-left corner.
	assert.Equal(t, []byte{0x00, 0x00, 0x10, 0x00}, buf)
}

func TestEncodeRejectsWrongDimensions(t *testing.T) {
	_, err := Encode(fill(640, 480, color.Black), panelW, panelH, true)
	assert.ErrorIs(t, err, ErrDimensions)
}

func TestEncodeRejectsOddPixelCount(t *testing.T) {
	_, err := Encode(fill(3, 3, color.Black), 3, 3, false)
	assert.ErrorIs(t, err, ErrOddPixels)
}

func TestEncodeHonorsNonZeroBoundsOrigin(t *testing.T) {
	img := fill(6, 4, color.Black)
	img.Set(2, 2, color.White)
	sub := img.SubImage(image.Rect(2, 2, 6, 4))

	buf, err := Encode(sub, 4, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0x00}, buf)
}

func TestBlank(t *testing.T) {
	buf := Blank(4, 2, palette.CodeWhite)
	assert.Equal(t, []byte{0x11, 0x11, 0x11, 0x11}, buf)
	assert.Len(t, Blank(panelW, panelH, palette.CodeBlack), BufferSize(panelW, panelH))
}

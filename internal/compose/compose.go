// Package compose renders the time/image composite that gets sent to the
// panel: an optional BMP background, an optional debug grid and a text line
// with an optional drop shadow.
package compose

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"

	"epdpi/internal/layout"
	appLog "epdpi/internal/log"
	"epdpi/internal/palette"
)

// Shadow is drawn at anchor + (ShadowOffsetX, ShadowOffsetY).
const (
	ShadowOffsetX = -5
	ShadowOffsetY = 5
)

// GridStep is the spacing of the light debug grid lines.
const GridStep = 10

// Request is one draw command's worth of input. It is built from a decoded
// message, used once and dropped.
type Request struct {
	// ImagePath is only honored when it names a readable .bmp file.
	ImagePath string
	// Text is skipped when empty.
	Text   string
	Mode   layout.Mode
	Color  palette.Color
	Shadow palette.Color
	Grid   bool
}

// Compositor builds composed images for a fixed canvas size.
type Compositor struct {
	width, height int
	background    color.Color
	fonts         *Fonts

	newCanvas func(base image.Image) Canvas
}

// New returns a Compositor for a w x h canvas.
func New(w, h int, fonts *Fonts) *Compositor {
	return &Compositor{
		width:      w,
		height:     h,
		background: palette.RGBA(palette.CodeBlack),
		fonts:      fonts,
		newCanvas:  newGGCanvas,
	}
}

// Blank returns an empty canvas in the background color.
func (c *Compositor) Blank() image.Image {
	return imaging.New(c.width, c.height, c.background)
}

// Compose renders req. It never touches hardware, and identical requests
// with identical font assets give identical images.
func (c *Compositor) Compose(req Request) (image.Image, error) {
	appLog.Info("compose",
		"image", req.ImagePath,
		"text", req.Text,
		"mode", req.Mode.String(),
		"color", req.Color.String(),
		"shadow", req.Shadow.String(),
		"grid", req.Grid,
	)

	base, ok := LoadBase(req.ImagePath)
	if ok && !c.fits(base) {
		b := base.Bounds()
		appLog.Warn("image size does not fit the canvas, using blank canvas",
			"path", req.ImagePath, "size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()))
		ok = false
	}
	if !ok {
		base = c.Blank()
	}
	cv := c.newCanvas(base)

	if req.Grid {
		c.drawGrid(cv)
	}

	if err := c.drawText(cv, req); err != nil {
		return nil, err
	}
	return cv.Image(), nil
}

// fits reports whether base is the canvas size, landscape or portrait.
func (c *Compositor) fits(base image.Image) bool {
	b := base.Bounds()
	return (b.Dx() == c.width && b.Dy() == c.height) || (b.Dx() == c.height && b.Dy() == c.width)
}

func (c *Compositor) drawText(cv Canvas, req Request) error {
	if req.Mode == layout.Off || req.Text == "" {
		return nil
	}
	anchor, tier := layout.Resolve(req.Mode, c.width, c.height)
	if tier == layout.TierNone {
		appLog.Warn("unknown placement mode, skipping text", "mode", req.Mode.String())
		return nil
	}
	face, err := c.fonts.Face(tier)
	if err != nil {
		return err
	}
	appLog.Debug("text anchor", "x", anchor.X, "y", anchor.Y, "tier", int(tier))

	x, y := float64(anchor.X), float64(anchor.Y)
	fg := palette.RGBA(palette.Resolve(req.Color))

	// Shadow goes first so the primary glyphs are painted over it.
	if req.Shadow != palette.None {
		sc := palette.RGBA(palette.Resolve(req.Shadow))
		cv.DrawText(req.Text, x+ShadowOffsetX, y+ShadowOffsetY, sc, face)
	}
	cv.DrawText(req.Text, x, y, fg, face)
	return nil
}

// drawGrid overlays the diagnostic grid: light lines every GridStep pixels,
// black lines on thirds and red lines on halves.
func (c *Compositor) drawGrid(cv Canvas) {
	w, h := float64(c.width), float64(c.height)
	light := palette.RGBA(palette.CodeWhite)
	thirds := palette.RGBA(palette.CodeBlack)
	halves := palette.RGBA(palette.CodeRed)

	for x := GridStep; x < c.width; x += GridStep {
		cv.DrawLine(float64(x), 0, float64(x), h, light)
	}
	for y := GridStep; y < c.height; y += GridStep {
		cv.DrawLine(0, float64(y), w, float64(y), light)
	}

	for _, x := range []int{c.width / 3, 2 * c.width / 3} {
		cv.DrawLine(float64(x), 0, float64(x), h, thirds)
	}
	for _, y := range []int{c.height / 3, 2 * c.height / 3} {
		cv.DrawLine(0, float64(y), w, float64(y), thirds)
	}

	cv.DrawLine(float64(c.width/2), 0, float64(c.width/2), h, halves)
	cv.DrawLine(0, float64(c.height/2), w, float64(c.height/2), halves)
}

// AllowedExtensions lists the image types accepted as a background.
var AllowedExtensions = map[string]bool{
	".bmp": true,
}

// LoadBase decodes the background image at path. It reports false when the
// path is empty, has a disallowed extension, is not a readable regular file
// or fails to decode; the caller then starts from a blank canvas.
func LoadBase(path string) (image.Image, bool) {
	if path == "" {
		return nil, false
	}
	if !AllowedExtensions[strings.ToLower(filepath.Ext(path))] {
		appLog.Warn("image extension not allowed, using blank canvas", "path", path)
		return nil, false
	}

	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		appLog.Warn("image not found, using blank canvas", "path", path)
		return nil, false
	}

	f, err := os.Open(path)
	if err != nil {
		appLog.Error("open image failed, using blank canvas", err, "path", path)
		return nil, false
	}
	defer f.Close()

	img, err := bmp.Decode(f)
	if err != nil {
		appLog.Error("decode image failed, using blank canvas", err, "path", path)
		return nil, false
	}
	return img, true
}

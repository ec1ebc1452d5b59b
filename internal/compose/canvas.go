package compose

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
)

// Canvas is the set of drawing primitives the compositor needs. The gg-backed
// implementation renders pixels; tests swap in a recorder to check call order.
type Canvas interface {
	DrawLine(x1, y1, x2, y2 float64, c color.Color)
	// DrawText draws s with its top-left corner at (x, y).
	DrawText(s string, x, y float64, c color.Color, face font.Face)
	Image() image.Image
}

type ggCanvas struct {
	dc *gg.Context
}

func newGGCanvas(base image.Image) Canvas {
	dc := gg.NewContextForImage(base)
	dc.SetLineWidth(1)
	return &ggCanvas{dc: dc}
}

func (g *ggCanvas) DrawLine(x1, y1, x2, y2 float64, c color.Color) {
	g.dc.SetColor(c)
	// Half-pixel shift keeps 1px lines on a single pixel row/column.
	g.dc.DrawLine(x1+0.5, y1+0.5, x2+0.5, y2+0.5)
	g.dc.Stroke()
}

func (g *ggCanvas) DrawText(s string, x, y float64, c color.Color, face font.Face) {
	g.dc.SetFontFace(face)
	g.dc.SetColor(c)
	ascent := face.Metrics().Ascent.Ceil()
	g.dc.DrawString(s, x, y+float64(ascent))
}

func (g *ggCanvas) Image() image.Image {
	return g.dc.Image()
}

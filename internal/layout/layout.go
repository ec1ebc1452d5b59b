// Package layout maps a placement mode to a text anchor and font tier on a
// fixed-size canvas.
package layout

import "fmt"

// Mode is the placement mode carried on the wire as an integer.
type Mode int

const (
	Off Mode = iota

	Sect9TopLeft
	Sect9TopCenter
	Sect9TopRight
	Sect9MiddleLeft
	Sect9MiddleCenter
	Sect9MiddleRight
	Sect9BottomLeft
	Sect9BottomCenter
	Sect9BottomRight

	Sect6TopLeft
	Sect6TopRight
	Sect6MiddleLeft
	Sect6MiddleRight
	Sect6BottomLeft
	Sect6BottomRight

	Sect4TopLeft
	Sect4TopRight
	Sect4BottomLeft
	Sect4BottomRight

	Full1
	Full2
	Full3

	modeCount
)

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= Off && m < modeCount
}

func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

var modeNames = [modeCount]string{
	"Off",
	"Sect9TopLeft", "Sect9TopCenter", "Sect9TopRight",
	"Sect9MiddleLeft", "Sect9MiddleCenter", "Sect9MiddleRight",
	"Sect9BottomLeft", "Sect9BottomCenter", "Sect9BottomRight",
	"Sect6TopLeft", "Sect6TopRight",
	"Sect6MiddleLeft", "Sect6MiddleRight",
	"Sect6BottomLeft", "Sect6BottomRight",
	"Sect4TopLeft", "Sect4TopRight",
	"Sect4BottomLeft", "Sect4BottomRight",
	"Full1", "Full2", "Full3",
}

// FontTier selects the text size used for a mode.
type FontTier int

const (
	TierNone FontTier = iota
	TierSect9
	TierSect6
	TierSect4
	TierFull1
	TierFull2
	TierFull3
)

// FontSize is the pixel height of each tier (rendered at 72 DPI).
var FontSize = map[FontTier]float64{
	TierSect9: 80,
	TierSect6: 130,
	TierSect4: 130,
	TierFull1: 200,
	TierFull2: 250,
	TierFull3: 300,
}

// Anchor is the top-left corner of the text line in canvas pixels.
type Anchor struct {
	X, Y int
}

// Per-grid offsets added to the top-left of the grid cell.
const (
	Sect9OffsetX = 33
	Sect9OffsetY = 25
	Sect6OffsetX = 30
	Sect6OffsetY = -10
	Sect4OffsetX = 30
	Sect4OffsetY = 30
)

// Full-screen anchors are literal, not grid-derived.
var (
	Full1Anchor = Anchor{X: 150, Y: 100}
	Full2Anchor = Anchor{X: 88, Y: 65}
	Full3Anchor = Anchor{X: 15, Y: 30}
)

type gridCell struct {
	cols, rows int
	col, row   int
	offX, offY int
	tier       FontTier
}

var cells = map[Mode]gridCell{
	Sect9TopLeft:      {3, 3, 0, 0, Sect9OffsetX, Sect9OffsetY, TierSect9},
	Sect9TopCenter:    {3, 3, 1, 0, Sect9OffsetX, Sect9OffsetY, TierSect9},
	Sect9TopRight:     {3, 3, 2, 0, Sect9OffsetX, Sect9OffsetY, TierSect9},
	Sect9MiddleLeft:   {3, 3, 0, 1, Sect9OffsetX, Sect9OffsetY, TierSect9},
	Sect9MiddleCenter: {3, 3, 1, 1, Sect9OffsetX, Sect9OffsetY, TierSect9},
	Sect9MiddleRight:  {3, 3, 2, 1, Sect9OffsetX, Sect9OffsetY, TierSect9},
	Sect9BottomLeft:   {3, 3, 0, 2, Sect9OffsetX, Sect9OffsetY, TierSect9},
	Sect9BottomCenter: {3, 3, 1, 2, Sect9OffsetX, Sect9OffsetY, TierSect9},
	Sect9BottomRight:  {3, 3, 2, 2, Sect9OffsetX, Sect9OffsetY, TierSect9},

	Sect6TopLeft:     {2, 3, 0, 0, Sect6OffsetX, Sect6OffsetY, TierSect6},
	Sect6TopRight:    {2, 3, 1, 0, Sect6OffsetX, Sect6OffsetY, TierSect6},
	Sect6MiddleLeft:  {2, 3, 0, 1, Sect6OffsetX, Sect6OffsetY, TierSect6},
	Sect6MiddleRight: {2, 3, 1, 1, Sect6OffsetX, Sect6OffsetY, TierSect6},
	Sect6BottomLeft:  {2, 3, 0, 2, Sect6OffsetX, Sect6OffsetY, TierSect6},
	Sect6BottomRight: {2, 3, 1, 2, Sect6OffsetX, Sect6OffsetY, TierSect6},

	Sect4TopLeft:     {2, 2, 0, 0, Sect4OffsetX, Sect4OffsetY, TierSect4},
	Sect4TopRight:    {2, 2, 1, 0, Sect4OffsetX, Sect4OffsetY, TierSect4},
	Sect4BottomLeft:  {2, 2, 0, 1, Sect4OffsetX, Sect4OffsetY, TierSect4},
	Sect4BottomRight: {2, 2, 1, 1, Sect4OffsetX, Sect4OffsetY, TierSect4},
}

type fixedPlacement struct {
	anchor Anchor
	tier   FontTier
}

var fullScreen = map[Mode]fixedPlacement{
	Full1: {Full1Anchor, TierFull1},
	Full2: {Full2Anchor, TierFull2},
	Full3: {Full3Anchor, TierFull3},
}

// Resolve returns the text anchor and font tier for mode on a w x h canvas.
//
// Grid anchors are clamped into [0,w)x[0,h) so a negative cell offset (the
// 6-section top row) never places text off-canvas. Off and unknown modes
// return the zero anchor with TierNone.
func Resolve(mode Mode, w, h int) (Anchor, FontTier) {
	if c, ok := cells[mode]; ok {
		a := Anchor{
			X: c.col*w/c.cols + c.offX,
			Y: c.row*h/c.rows + c.offY,
		}
		return clamp(a, w, h), c.tier
	}
	if f, ok := fullScreen[mode]; ok {
		return f.anchor, f.tier
	}
	return Anchor{}, TierNone
}

func clamp(a Anchor, w, h int) Anchor {
	a.X = clampInt(a.X, 0, w-1)
	a.Y = clampInt(a.Y, 0, h-1)
	return a
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

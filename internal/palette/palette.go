// Package palette maps the abstract text colors used on the wire to the
// panel's native 4-bit color codes and their RGB equivalents.
package palette

import (
	"fmt"
	"image/color"

	appLog "epdpi/internal/log"
)

// Color is the color enum carried on the wire.
type Color int

const (
	None Color = iota
	Black
	White
	Yellow
	Red
	Blue
	Green

	colorCount
)

// Valid reports whether c is a defined enum value (None included).
func (c Color) Valid() bool {
	return c >= None && c < colorCount
}

func (c Color) String() string {
	switch c {
	case None:
		return "None"
	case Black:
		return "Black"
	case White:
		return "White"
	case Yellow:
		return "Yellow"
	case Red:
		return "Red"
	case Blue:
		return "Blue"
	case Green:
		return "Green"
	default:
		return fmt.Sprintf("Color(%d)", int(c))
	}
}

// Code is the panel's 4-bit color index.
type Code uint8

// Codes of the 7.3" (E) panel. Index 4 is unused by the panel; it is kept in
// the palette as a black placeholder so that palette index == Code.
const (
	CodeBlack  Code = 0x0
	CodeWhite  Code = 0x1
	CodeYellow Code = 0x2
	CodeRed    Code = 0x3
	codeUnused Code = 0x4
	CodeBlue   Code = 0x5
	CodeGreen  Code = 0x6
)

var codes = map[Color]Code{
	Black:  CodeBlack,
	White:  CodeWhite,
	Yellow: CodeYellow,
	Red:    CodeRed,
	Blue:   CodeBlue,
	Green:  CodeGreen,
}

// Resolve maps c to its panel code. Anything unknown, None included, falls
// back to black with a warning.
func Resolve(c Color) Code {
	if code, ok := codes[c]; ok {
		return code
	}
	appLog.Warn("unknown text color, using black", "color", c.String())
	return CodeBlack
}

var rgba = [...]color.RGBA{
	CodeBlack:  {0x00, 0x00, 0x00, 0xFF},
	CodeWhite:  {0xFF, 0xFF, 0xFF, 0xFF},
	CodeYellow: {0xFF, 0xFF, 0x00, 0xFF},
	CodeRed:    {0xFF, 0x00, 0x00, 0xFF},
	codeUnused: {0x00, 0x00, 0x00, 0xFF},
	CodeBlue:   {0x00, 0x00, 0xFF, 0xFF},
	CodeGreen:  {0x00, 0xFF, 0x00, 0xFF},
}

// RGBA returns the drawing color for a panel code. Out-of-range codes are
// drawn black.
func RGBA(code Code) color.RGBA {
	if int(code) >= len(rgba) {
		return rgba[CodeBlack]
	}
	return rgba[code]
}

// Palette returns the 7-entry quantization palette, indexed by Code.
func Palette() color.Palette {
	p := make(color.Palette, len(rgba))
	for i, c := range rgba {
		p[i] = c
	}
	return p
}

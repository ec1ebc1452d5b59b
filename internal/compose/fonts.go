package compose

import (
	"fmt"
	"os"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"

	"epdpi/internal/layout"
	appLog "epdpi/internal/log"
)

// Fonts hands out one cached face per font tier.
//
// By default the embedded Go Bold font is used. A TTF file (the reference
// setup ships Roboto-Bold.ttf) can be supplied instead via LoadFonts.
type Fonts struct {
	mu    sync.Mutex
	otf   *opentype.Font
	ttf   *truetype.Font
	faces map[layout.FontTier]font.Face
}

// LoadFonts parses the font at path, or the embedded font when path is empty.
func LoadFonts(path string) (*Fonts, error) {
	f := &Fonts{faces: make(map[layout.FontTier]font.Face)}

	if path == "" {
		otf, err := opentype.Parse(gobold.TTF)
		if err != nil {
			return nil, fmt.Errorf("compose: parse embedded font: %w", err)
		}
		f.otf = otf
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compose: read font %s: %w", path, err)
	}
	ttf, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("compose: parse font %s: %w", path, err)
	}
	f.ttf = ttf
	appLog.Info("loaded font file", "path", path)
	return f, nil
}

// Face returns the face for tier, creating it on first use.
func (f *Fonts) Face(tier layout.FontTier) (font.Face, error) {
	size, ok := layout.FontSize[tier]
	if !ok {
		return nil, fmt.Errorf("compose: no font size for tier %d", tier)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if face, ok := f.faces[tier]; ok {
		return face, nil
	}

	var face font.Face
	if f.ttf != nil {
		face = truetype.NewFace(f.ttf, &truetype.Options{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
	} else {
		var err error
		face, err = opentype.NewFace(f.otf, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("compose: create face size %.0f: %w", size, err)
		}
	}
	f.faces[tier] = face
	return face, nil
}

// Package epd drives the Waveshare 7.3" (E) six-color e-paper panel.
//
// Three implementations share the Driver interface:
//   - SPIDriver: pure Go on top of periph.io SPI/GPIO.
//   - CDriver: cgo wrapper around the vendor C library (build tag waveshare_c).
//   - Noop: logs and discards, used for --render-only runs and tests.
package epd

import (
	"context"
	"fmt"

	appLog "epdpi/internal/log"
)

// Driver is the panel as seen by the dispatcher. Every operation is blocking
// and must not overlap with another; the caller serializes access.
type Driver interface {
	Init(ctx context.Context) error
	Display(ctx context.Context, buf []byte) error
	Clear(ctx context.Context) error
	Sleep(ctx context.Context) error
}

// Panel geometry.
const (
	Width      = 800
	Height     = 480
	BufferSize = Width * Height / 2
)

// CheckCanvas reports whether a w x h canvas can be shown by the driver
// named kind. The hardware drivers only take the panel's own geometry.
func CheckCanvas(kind string, w, h int) error {
	if w <= 0 || h <= 0 || (w*h)%2 != 0 {
		return fmt.Errorf("epd: canvas %dx%d needs a positive, even pixel count", w, h)
	}
	if kind == "noop" {
		return nil
	}
	if w != Width || h != Height {
		if kind == "" {
			kind = "spi"
		}
		return fmt.Errorf("epd: %s driver needs a %dx%d canvas, got %dx%d", kind, Width, Height, w, h)
	}
	return nil
}

// Options selects and configures a Driver.
type Options struct {
	// Kind is "spi", "cgo" or "noop".
	Kind string

	SPIPort string
	SpeedHz int64
	Pins    Pins
}

// New builds the driver named by opts.Kind. No hardware is touched until Init.
func New(opts Options) (Driver, error) {
	switch opts.Kind {
	case "", "spi":
		return NewSPI(opts.SPIPort, opts.SpeedHz, opts.Pins), nil
	case "cgo":
		return &CDriver{}, nil
	case "noop":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("epd: unknown driver %q", opts.Kind)
	}
}

// Noop accepts every call without touching hardware.
type Noop struct{}

func (Noop) Init(context.Context) error {
	appLog.Info("epd noop init")
	return nil
}

func (Noop) Display(_ context.Context, buf []byte) error {
	appLog.Info("epd noop display", "bytes", len(buf))
	return nil
}

func (Noop) Clear(context.Context) error {
	appLog.Info("epd noop clear")
	return nil
}

func (Noop) Sleep(context.Context) error {
	appLog.Info("epd noop sleep")
	return nil
}

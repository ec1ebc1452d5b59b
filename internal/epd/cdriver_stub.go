//go:build !(linux && arm && cgo && waveshare_c)

// Skeleton CDriver for builds without the vendor C library.
//
// The real wrapper is only compiled on linux/arm with cgo and the
// waveshare_c build tag; everywhere else the package still builds and the
// "cgo" driver reports that it is unavailable.

package epd

import (
	"context"
	"errors"
)

var errNoC = errors.New("epd(cgo): C driver is only available on linux/arm with cgo and -tags waveshare_c")

// CDriver is unavailable on this platform.
type CDriver struct{}

func (d *CDriver) Init(context.Context) error { return errNoC }

func (d *CDriver) Display(context.Context, []byte) error { return errNoC }

func (d *CDriver) Clear(context.Context) error { return errNoC }

func (d *CDriver) Sleep(context.Context) error { return nil }

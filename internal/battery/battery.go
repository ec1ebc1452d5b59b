// Package battery reads the UPS HAT battery gauge for the status server.
package battery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddr is the PiSugar 3 gauge address.
const DefaultAddr = 0x75

// PiSugar 3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// Status is the gauge reading.
type Status struct {
	// Percent is the charge level, 0..100.
	Percent int `json:"percent"`
	// VoltageMv is the cell voltage in millivolts, 0 when unknown.
	VoltageMv int `json:"voltage_mv"`
}

// Reader returns the current battery status.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Fixed always reports the same status. Hosts without a gauge use it.
type Fixed Status

func (f Fixed) Read(context.Context) (Status, error) {
	return Status(f), nil
}

// I2C reads a PiSugar style gauge. The bus is opened per read so a missing
// HAT does not hold the adapter.
type I2C struct {
	addr uint16
	open func() (i2c.BusCloser, error)
}

// NewI2C reads from addr on the named bus ("" is the first bus).
func NewI2C(busName string, addr uint16) *I2C {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &I2C{
		addr: addr,
		open: func() (i2c.BusCloser, error) {
			if _, err := host.Init(); err != nil {
				return nil, fmt.Errorf("battery: periph host init: %w", err)
			}
			return i2creg.Open(busName)
		},
	}
}

func (r *I2C) Read(_ context.Context) (Status, error) {
	bus, err := r.open()
	if err != nil {
		return Status{}, fmt.Errorf("battery: open i2c: %w", err)
	}
	defer bus.Close()

	d := &i2c.Dev{Bus: bus, Addr: r.addr}
	reg := func(n byte) (byte, error) {
		b := []byte{0}
		if err := d.Tx([]byte{n}, b); err != nil {
			return 0, fmt.Errorf("battery: read 0x%02X: %w", n, err)
		}
		return b[0], nil
	}

	hi, err := reg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	lo, err := reg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := reg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}
	return Status{Percent: int(pct), VoltageMv: int(hi)<<8 | int(lo)}, nil
}

// Cached wraps a Reader and reuses a successful reading for ttl.
type Cached struct {
	r   Reader
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	last Status
	at   time.Time
}

// NewCached caches r for ttl.
func NewCached(r Reader, ttl time.Duration) *Cached {
	return &Cached{r: r, ttl: ttl, now: time.Now}
}

func (c *Cached) Read(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.at.IsZero() && c.now().Sub(c.at) < c.ttl {
		return c.last, nil
	}
	s, err := c.r.Read(ctx)
	if err != nil {
		return Status{}, err
	}
	c.last, c.at = s, c.now()
	return s, nil
}

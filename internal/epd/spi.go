package epd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"epdpi/internal/convert"
	appLog "epdpi/internal/log"
	"epdpi/internal/palette"
)

// Pins names the GPIO lines wired to the HAT, using periph names ("GPIO17").
// CS and PWR are optional: leave CS empty when spidev drives chip select, and
// PWR empty on HAT revisions without a power switch.
type Pins struct {
	RST  string
	DC   string
	CS   string
	BUSY string
	PWR  string
}

// DefaultPins matches the Waveshare e-Paper HAT on a Raspberry Pi (BCM).
var DefaultPins = Pins{
	RST:  "GPIO17",
	DC:   "GPIO25",
	BUSY: "GPIO24",
	PWR:  "GPIO18",
}

// DefaultSpeedHz is the SPI clock used when none is configured.
const DefaultSpeedHz = 4_000_000

// Panel commands used outside the init table.
const (
	cmdPowerOn      = 0x04
	cmdPowerOff     = 0x02
	cmdDeepSleep    = 0x07
	cmdDataStart    = 0x10
	cmdDisplayRef   = 0x12
	cmdBoosterSoft  = 0x06
	deepSleepMarker = 0xA5
)

type regWrite struct {
	cmd  byte
	data []byte
}

// initSequence is the register setup from the vendor reference for the
// 7.3" (E) controller.
var initSequence = []regWrite{
	{0xAA, []byte{0x49, 0x55, 0x20, 0x08, 0x09, 0x18}}, // CMDH
	{0x01, []byte{0x3F}},                               // power setting
	{0x00, []byte{0x5F, 0x69}},                         // panel setting
	{0x03, []byte{0x00, 0x54, 0x00, 0x44}},             // power off sequence
	{0x05, []byte{0x40, 0x1F, 0x1F, 0x2C}},             // booster 1
	{0x06, []byte{0x6F, 0x1F, 0x17, 0x49}},             // booster soft start
	{0x08, []byte{0x6F, 0x1F, 0x1F, 0x22}},             // booster 3
	{0x30, []byte{0x03}},                               // PLL
	{0x50, []byte{0x3F}},                               // VCOM and data interval
	{0x60, []byte{0x02, 0x00}},                         // TCON
	{0x61, []byte{0x03, 0x20, 0x01, 0xE0}},             // resolution 800x480
	{0x84, []byte{0x01}},
	{0xE3, []byte{0x2F}},
}

// dev is one open session with the panel: an SPI connection plus GPIO.
type dev struct {
	port   spi.PortCloser
	spi    spi.Conn
	maxTx  int
	rst    gpio.PinOut
	dc     gpio.PinOut
	cs     gpio.PinOut
	pwr    gpio.PinOut
	busyIn gpio.PinIn
}

// SPIDriver is the pure-Go driver. Like the vendor SDK, every Init opens the
// bus and every Sleep closes it again, so the panel is only powered while a
// draw or clear is running.
type SPIDriver struct {
	portName string
	speedHz  int64
	pins     Pins

	open       func() (*dev, error)
	delay      func(time.Duration)
	busyPoll   time.Duration
	sleepDelay time.Duration

	dev *dev
}

// NewSPI returns an SPIDriver. portName "" opens the default spidev port.
func NewSPI(portName string, speedHz int64, pins Pins) *SPIDriver {
	if speedHz <= 0 {
		speedHz = DefaultSpeedHz
	}
	d := &SPIDriver{
		portName:   portName,
		speedHz:    speedHz,
		pins:       pins,
		delay:      time.Sleep,
		busyPoll:   5 * time.Millisecond,
		sleepDelay: 2 * time.Second,
	}
	d.open = d.openHW
	return d
}

func (d *SPIDriver) openHW() (*dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(d.portName)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port: %w", err)
	}
	c, err := port.Connect(physic.Frequency(d.speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	out := func(name string, level gpio.Level) (gpio.PinOut, error) {
		if name == "" {
			return nil, nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("epd: gpio %s not found", name)
		}
		if err := p.Out(level); err != nil {
			return nil, fmt.Errorf("epd: gpio %s Out failed: %w", name, err)
		}
		return p, nil
	}

	dv := &dev{port: port, spi: c, maxTx: 4096}
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		dv.maxTx = l.MaxTxSize()
	}

	var errs []error
	var e error
	dv.rst, e = out(d.pins.RST, gpio.High)
	errs = append(errs, e)
	dv.dc, e = out(d.pins.DC, gpio.Low)
	errs = append(errs, e)
	dv.cs, e = out(d.pins.CS, gpio.High)
	errs = append(errs, e)
	dv.pwr, e = out(d.pins.PWR, gpio.High)
	errs = append(errs, e)

	if busy := gpioreg.ByName(d.pins.BUSY); busy == nil {
		errs = append(errs, fmt.Errorf("epd: gpio %s not found", d.pins.BUSY))
	} else if err := busy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		errs = append(errs, fmt.Errorf("epd: gpio %s In failed: %w", d.pins.BUSY, err))
	} else {
		dv.busyIn = busy
	}

	if err := errors.Join(errs...); err != nil {
		_ = port.Close()
		return nil, err
	}
	if dv.rst == nil || dv.dc == nil {
		_ = port.Close()
		return nil, errors.New("epd: RST and DC pins are required")
	}
	return dv, nil
}

// Init opens the bus, resets the controller and loads the register setup.
func (d *SPIDriver) Init(ctx context.Context) error {
	if d.dev == nil {
		dv, err := d.open()
		if err != nil {
			return err
		}
		d.dev = dv
	}

	d.reset()
	if err := d.waitIdle(ctx); err != nil {
		return err
	}
	d.delay(30 * time.Millisecond)

	for _, rw := range initSequence {
		if err := d.write(rw.cmd, rw.data...); err != nil {
			return err
		}
	}
	if err := d.write(cmdPowerOn); err != nil {
		return err
	}
	return d.waitIdle(ctx)
}

// Display sends a packed 4bpp buffer and refreshes the panel.
func (d *SPIDriver) Display(ctx context.Context, buf []byte) error {
	if len(buf) != BufferSize {
		return fmt.Errorf("epd: invalid buffer size %d, expected %d", len(buf), BufferSize)
	}
	if d.dev == nil {
		return errors.New("epd: display called before init")
	}
	if err := d.write(cmdDataStart, buf...); err != nil {
		return err
	}
	return d.refresh(ctx)
}

// Clear fills the panel with white.
func (d *SPIDriver) Clear(ctx context.Context) error {
	if d.dev == nil {
		return errors.New("epd: clear called before init")
	}
	if err := d.write(cmdDataStart, convert.Blank(Width, Height, palette.CodeWhite)...); err != nil {
		return err
	}
	return d.refresh(ctx)
}

// Sleep puts the controller into deep sleep and releases the bus. It is safe
// to call without a prior Init.
func (d *SPIDriver) Sleep(_ context.Context) error {
	if d.dev == nil {
		return nil
	}
	err := d.write(cmdDeepSleep, deepSleepMarker)
	d.delay(d.sleepDelay)
	if cerr := d.close(); err == nil {
		err = cerr
	}
	return err
}

func (d *SPIDriver) close() error {
	dv := d.dev
	d.dev = nil
	digitalWrite(dv.rst, false)
	digitalWrite(dv.dc, false)
	digitalWrite(dv.pwr, false)
	if dv.port != nil {
		return dv.port.Close()
	}
	return nil
}

// refresh powers on, triggers the refresh and powers off again.
func (d *SPIDriver) refresh(ctx context.Context) error {
	steps := []regWrite{
		{cmdPowerOn, nil},
		{cmdBoosterSoft, []byte{0x6F, 0x1F, 0x17, 0x49}},
		{cmdDisplayRef, []byte{0x00}},
		{cmdPowerOff, []byte{0x00}},
	}
	for i, s := range steps {
		if err := d.write(s.cmd, s.data...); err != nil {
			return err
		}
		// The booster setting needs no busy wait.
		if i == 1 {
			continue
		}
		if err := d.waitIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *SPIDriver) reset() {
	digitalWrite(d.dev.rst, true)
	d.delay(20 * time.Millisecond)
	digitalWrite(d.dev.rst, false)
	d.delay(2 * time.Millisecond)
	digitalWrite(d.dev.rst, true)
	d.delay(20 * time.Millisecond)
}

// waitIdle blocks while BUSY is low (the controller pulls it low while
// working), or until ctx is done.
func (d *SPIDriver) waitIdle(ctx context.Context) error {
	if d.dev.busyIn == nil {
		return nil
	}
	start := time.Now()
	for d.dev.busyIn.Read() == gpio.Low {
		select {
		case <-ctx.Done():
			return fmt.Errorf("epd: waiting for busy line: %w", ctx.Err())
		case <-time.After(d.busyPoll):
		}
	}
	appLog.Debug("epd busy released", "waited", time.Since(start))
	return nil
}

// write sends a command byte followed by optional data bytes.
func (d *SPIDriver) write(cmd byte, data ...byte) error {
	if err := d.send(false, []byte{cmd}); err != nil {
		return fmt.Errorf("epd: command 0x%02X: %w", cmd, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.send(true, data); err != nil {
		return fmt.Errorf("epd: data for 0x%02X: %w", cmd, err)
	}
	return nil
}

// send toggles DC for command/data and splits large payloads into chunks the
// SPI driver accepts in one transfer.
func (d *SPIDriver) send(isData bool, b []byte) error {
	digitalWrite(d.dev.dc, isData)
	digitalWrite(d.dev.cs, false)
	defer digitalWrite(d.dev.cs, true)

	for len(b) > 0 {
		n := len(b)
		if d.dev.maxTx > 0 && n > d.dev.maxTx {
			n = d.dev.maxTx
		}
		if err := d.dev.spi.Tx(b[:n], nil); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// digitalWrite mirrors DEV_Digital_Write; nil pins are optional and skipped.
func digitalWrite(pin gpio.PinOut, value bool) {
	if pin == nil {
		return
	}
	if value {
		_ = pin.Out(gpio.High)
	} else {
		_ = pin.Out(gpio.Low)
	}
}

// Package button watches a momentary push button wired between a GPIO line
// and ground, and fires an action once per press.
package button

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	appLog "epdpi/internal/log"
)

// Debounce is the quiet time after an accepted edge during which further
// edges are ignored.
const Debounce = 50 * time.Millisecond

// Input is the part of gpio.PinIn the watcher needs.
type Input interface {
	WaitForEdge(timeout time.Duration) bool
	Read() gpio.Level
}

// Button turns edges on an input into press events.
type Button struct {
	in       Input
	name     string
	debounce time.Duration
	// poll bounds each WaitForEdge so cancellation is noticed.
	poll time.Duration
	now  func() time.Time
}

// Open configures the named pin (periph name, e.g. "GPIO16") as a pulled-up
// input with edge detection on both edges.
func Open(name string) (*Button, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("button: periph host init failed: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("button: gpio %s not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("button: gpio %s In failed: %w", name, err)
	}
	b := New(p)
	b.name = name
	return b, nil
}

// New watches an already configured input.
func New(in Input) *Button {
	return &Button{
		in:       in,
		debounce: Debounce,
		poll:     time.Second,
		now:      time.Now,
	}
}

// Run blocks until ctx is done, calling onPress on the release that follows
// each press. onPress runs on the watcher goroutine; edges arriving while it
// runs are handled afterwards.
func (b *Button) Run(ctx context.Context, onPress func(context.Context)) {
	appLog.Info("button watching", "pin", b.name)

	var (
		pressed bool
		last    time.Time
	)
	for ctx.Err() == nil {
		if !b.in.WaitForEdge(b.poll) {
			continue
		}
		now := b.now()
		if !last.IsZero() && now.Sub(last) < b.debounce {
			continue
		}
		last = now

		switch level := b.in.Read(); {
		case level == gpio.Low && !pressed:
			pressed = true
			appLog.Debug("button down", "pin", b.name)
		case level == gpio.High && pressed:
			pressed = false
			appLog.Info("button pressed", "pin", b.name)
			onPress(ctx)
		}
	}
}

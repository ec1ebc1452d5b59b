// Package dispatch turns decoded commands into panel operations, guarded by
// the busy gate, and publishes exactly one result per command.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"epdpi/internal/compose"
	"epdpi/internal/convert"
	"epdpi/internal/epd"
	"epdpi/internal/gate"
	appLog "epdpi/internal/log"
	"epdpi/internal/protocol"
)

// DefaultOpTimeout bounds one hardware operation.
const DefaultOpTimeout = 2 * time.Minute

// Publisher sends outbound messages.
type Publisher interface {
	Publish(ctx context.Context, msg string) error
}

// Options tunes the dispatcher.
type Options struct {
	// Channel, when set, is the only channel Handle accepts messages from.
	Channel string

	Width, Height int
	Dither        bool
	OpTimeout     time.Duration
}

// Dispatcher runs clear and draw commands.
type Dispatcher struct {
	gate *gate.Gate
	comp *compose.Compositor
	drv  epd.Driver
	pub  Publisher
	opts Options

	mu         sync.RWMutex
	lastImage  image.Image
	lastResult *protocol.Result
	lastAt     time.Time
}

// New builds a Dispatcher. Zero Width/Height default to the panel size.
func New(g *gate.Gate, comp *compose.Compositor, drv epd.Driver, pub Publisher, opts Options) *Dispatcher {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = epd.Width, epd.Height
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	return &Dispatcher{gate: g, comp: comp, drv: drv, pub: pub, opts: opts}
}

// Handle processes one inbound message. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, channel, payload string) {
	if d.opts.Channel != "" && channel != d.opts.Channel {
		appLog.Debug("ignoring message from other channel", "channel", channel)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			appLog.Error("handler panic", fmt.Errorf("%v", r), "payload", payload)
		}
	}()

	cmd, err := protocol.Decode(payload)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Op != "" {
			appLog.Warn("malformed command", "op", string(de.Op), "reason", de.Reason)
			d.publish(ctx, protocol.Result{Op: de.Op, Code: protocol.Exception, Detail: de.Reason})
			return
		}
		appLog.Warn("dropping unknown command", "payload", payload)
		return
	}

	switch cmd.Op {
	case protocol.OpClear:
		d.Clear(ctx)
	case protocol.OpDraw:
		d.Draw(ctx, cmd.Draw)
	}
}

// Clear blanks the panel.
func (d *Dispatcher) Clear(ctx context.Context) protocol.Result {
	return d.run(ctx, protocol.OpClear, func(ctx context.Context) error {
		return d.onPanel(ctx, d.drv.Clear)
	})
}

// Draw composes req and shows it on the panel.
func (d *Dispatcher) Draw(ctx context.Context, req compose.Request) protocol.Result {
	return d.run(ctx, protocol.OpDraw, func(ctx context.Context) error {
		img, err := d.comp.Compose(req)
		if err != nil {
			return err
		}
		buf, err := convert.Encode(img, d.opts.Width, d.opts.Height, d.opts.Dither)
		if errors.Is(err, convert.ErrDimensions) {
			// Recompose on the blank canvas so text and grid survive.
			appLog.Warn("image does not fit the panel, recomposing without it", "err", err.Error())
			req.ImagePath = ""
			if img, err = d.comp.Compose(req); err != nil {
				return err
			}
			buf, err = convert.Encode(img, d.opts.Width, d.opts.Height, d.opts.Dither)
		}
		if err != nil {
			return err
		}

		d.mu.Lock()
		d.lastImage = img
		d.mu.Unlock()

		return d.onPanel(ctx, func(ctx context.Context) error {
			return d.drv.Display(ctx, buf)
		})
	})
}

// run is the gate protocol shared by every operation: check, acquire, work,
// release, publish.
func (d *Dispatcher) run(ctx context.Context, op protocol.Op, work func(context.Context) error) protocol.Result {
	res := protocol.Result{Op: op}

	if code, detail, ok := d.gate.CanOperate(ctx); !ok {
		res.Code, res.Detail = code, detail
		return d.publish(ctx, res)
	}

	if err := d.gate.Acquire(ctx); err != nil {
		if errors.Is(err, gate.ErrBusy) {
			res.Code, res.Detail = protocol.Busy, protocol.DetailBusy
		} else {
			appLog.Error("busy flag acquire failed", err)
			res.Code, res.Detail = protocol.Exception, err.Error()
		}
		return d.publish(ctx, res)
	}

	start := time.Now()
	if err := d.guarded(ctx, op, work); err != nil {
		appLog.Error("operation failed", err, "op", string(op))
		res.Code, res.Detail = protocol.Exception, err.Error()
	} else {
		appLog.Info("operation done", "op", string(op), "took", time.Since(start))
	}
	return d.publish(ctx, res)
}

// guarded runs work under the operation timeout and always releases the
// gate, also when work panics.
func (d *Dispatcher) guarded(ctx context.Context, op protocol.Op, work func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: %s panicked: %v", op, r)
		}
		if rerr := d.gate.Release(context.WithoutCancel(ctx)); rerr != nil {
			appLog.Error("busy flag release failed", rerr)
		}
	}()

	opCtx, cancel := context.WithTimeout(ctx, d.opts.OpTimeout)
	defer cancel()
	return work(opCtx)
}

// onPanel wraps a panel call with Init and Sleep. Sleep runs even when the
// call fails so the bus is released.
func (d *Dispatcher) onPanel(ctx context.Context, fn func(context.Context) error) error {
	if err := d.drv.Init(ctx); err != nil {
		_ = d.drv.Sleep(ctx)
		return fmt.Errorf("dispatch: panel init: %w", err)
	}
	err := fn(ctx)
	if serr := d.drv.Sleep(ctx); err == nil && serr != nil {
		err = fmt.Errorf("dispatch: panel sleep: %w", serr)
	}
	return err
}

// publish records and sends res, returning it as sent.
func (d *Dispatcher) publish(ctx context.Context, res protocol.Result) protocol.Result {
	// A detail may come from an arbitrary error string.
	res.Detail = strings.ReplaceAll(res.Detail, protocol.Sep, " ")

	d.mu.Lock()
	d.lastResult = &res
	d.lastAt = time.Now()
	d.mu.Unlock()

	if d.pub == nil {
		return res
	}
	if err := d.pub.Publish(context.WithoutCancel(ctx), res.Encode()); err != nil {
		appLog.Error("publish result failed", err, "op", string(res.Op))
	}
	return res
}

// LastImage is the most recently composed image, or nil.
func (d *Dispatcher) LastImage() image.Image {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastImage
}

// LastResult is the most recently published result and when it was sent.
func (d *Dispatcher) LastResult() (protocol.Result, time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastResult == nil {
		return protocol.Result{}, time.Time{}, false
	}
	return *d.lastResult, d.lastAt, true
}

// Gate exposes the gate for status reporting.
func (d *Dispatcher) Gate() *gate.Gate {
	return d.gate
}

// Package gate guards the panel: only an authorized host may touch it, and
// only one draw or clear may run at a time across every process sharing the
// busy flag.
package gate

import (
	"context"
	"errors"
	"os"

	appLog "epdpi/internal/log"
	"epdpi/internal/protocol"
)

// ErrBusy is returned by Acquire when another holder got the flag first.
var ErrBusy = errors.New("gate: display is busy")

// Authorizer decides whether this host may drive the panel at all.
type Authorizer interface {
	Authorized() bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func() bool

func (f AuthorizerFunc) Authorized() bool { return f() }

// DefaultMachineEnv is set in the environment of real panel hosts.
const DefaultMachineEnv = "IS_RASPBERRYPI"

// EnvAuthorizer accepts the host when Var is present in the environment.
type EnvAuthorizer struct {
	Var string
}

func (a EnvAuthorizer) Authorized() bool {
	name := a.Var
	if name == "" {
		name = DefaultMachineEnv
	}
	_, ok := os.LookupEnv(name)
	return ok
}

// Notifier receives busy-state change notifications.
type Notifier interface {
	Publish(ctx context.Context, msg string) error
}

// Gate is the check/acquire/release state machine around the busy flag.
type Gate struct {
	flag   Flag
	auth   Authorizer
	notify Notifier
}

// New builds a Gate. notify may be nil.
func New(flag Flag, auth Authorizer, notify Notifier) *Gate {
	return &Gate{flag: flag, auth: auth, notify: notify}
}

// Reset clears the flag without notifying; called once at daemon start.
func (g *Gate) Reset(ctx context.Context) error {
	return g.flag.Set(ctx, false)
}

// Authorized reports the host check on its own.
func (g *Gate) Authorized() bool {
	return g.auth.Authorized()
}

// Busy reports the current flag value.
func (g *Gate) Busy(ctx context.Context) (bool, error) {
	return g.flag.Get(ctx)
}

// CanOperate reports whether a hardware operation may start. When it may
// not, code and detail describe why. A flag that cannot be read denies with
// Exception.
func (g *Gate) CanOperate(ctx context.Context) (code protocol.Code, detail string, ok bool) {
	if !g.auth.Authorized() {
		appLog.Warn("invalid machine")
		return protocol.InvalidMachine, protocol.DetailInvalidMachine, false
	}
	busy, err := g.flag.Get(ctx)
	if err != nil {
		appLog.Error("busy flag read failed", err)
		return protocol.Exception, err.Error(), false
	}
	if busy {
		appLog.Warn("epd is busy")
		return protocol.Busy, protocol.DetailBusy, false
	}
	return protocol.Success, "", true
}

// Acquire marks the display busy. It returns ErrBusy when the flag was
// already set, which closes the window between CanOperate and Acquire.
func (g *Gate) Acquire(ctx context.Context) error {
	ok, err := g.flag.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBusy
	}
	g.updated(ctx)
	return nil
}

// Release marks the display idle. Releasing an idle gate is allowed; every
// call writes the flag and publishes one notification.
func (g *Gate) Release(ctx context.Context) error {
	err := g.flag.Set(ctx, false)
	g.updated(ctx)
	return err
}

func (g *Gate) updated(ctx context.Context) {
	if g.notify == nil {
		return
	}
	if err := g.notify.Publish(ctx, protocol.BusyUpdated()); err != nil {
		appLog.Error("publish busy update failed", err)
	}
}

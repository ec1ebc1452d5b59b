// Package schedule redraws the current time on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"epdpi/internal/compose"
	appLog "epdpi/internal/log"
	"epdpi/internal/protocol"
)

// Drawer runs a draw through the busy gate.
type Drawer interface {
	Draw(ctx context.Context, req compose.Request) protocol.Result
}

// Clock draws tmpl with Text replaced by the formatted time.
type Clock struct {
	sched  cron.Schedule
	spec   string
	format string
	tmpl   compose.Request
	drawer Drawer
	now    func() time.Time
}

// NewClock parses spec (standard five-field cron, or descriptors such as
// "@every 5m") and returns a Clock that is not yet running.
func NewClock(spec, format string, tmpl compose.Request, d Drawer) (*Clock, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron %q: %w", spec, err)
	}
	return &Clock{
		sched:  sched,
		spec:   spec,
		format: format,
		tmpl:   tmpl,
		drawer: d,
		now:    time.Now,
	}, nil
}

// Request is the draw request for the time t.
func (c *Clock) Request(t time.Time) compose.Request {
	req := c.tmpl
	req.Text = t.Format(c.format)
	return req
}

// Tick draws the current time once. A busy panel skips the tick.
func (c *Clock) Tick(ctx context.Context) protocol.Result {
	res := c.drawer.Draw(ctx, c.Request(c.now()))
	if res.Code != protocol.Success {
		appLog.Warn("clock tick skipped", "code", res.Code.String(), "detail", res.Detail)
	}
	return res
}

// Run ticks on the schedule until ctx is done. A tick still running when the
// next one is due makes the next one skip.
func (c *Clock) Run(ctx context.Context) {
	cr := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})), cron.WithLogger(cronLogger{}))
	cr.Schedule(c.sched, cron.FuncJob(func() { c.Tick(ctx) }))

	appLog.Info("clock scheduled", "cron", c.spec, "format", c.format)
	cr.Start()
	<-ctx.Done()
	<-cr.Stop().Done()
}

// cronLogger routes cron's own messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epdpi/internal/compose"
	"epdpi/internal/layout"
	"epdpi/internal/palette"
	"epdpi/internal/protocol"
)

type drawLog struct {
	mu   sync.Mutex
	reqs []compose.Request
	code protocol.Code
}

func (d *drawLog) Draw(_ context.Context, req compose.Request) protocol.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	return protocol.Result{Op: protocol.OpDraw, Code: d.code}
}

func (d *drawLog) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reqs)
}

var tmpl = compose.Request{
	ImagePath: "/srv/bg.bmp",
	Mode:      layout.Full3,
	Color:     palette.White,
	Shadow:    palette.Black,
}

func TestRequestFormatsTime(t *testing.T) {
	c, err := NewClock("* * * * *", "15:04", tmpl, &drawLog{})
	require.NoError(t, err)

	req := c.Request(time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC))
	want := tmpl
	want.Text = "09:05"
	assert.Equal(t, want, req)
}

func TestTickDrawsNow(t *testing.T) {
	d := &drawLog{}
	c, err := NewClock("@hourly", "15:04", tmpl, d)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC) }

	res := c.Tick(context.Background())
	assert.Equal(t, protocol.Success, res.Code)
	require.Len(t, d.reqs, 1)
	assert.Equal(t, "23:59", d.reqs[0].Text)

	d.code = protocol.Busy
	assert.Equal(t, protocol.Busy, c.Tick(context.Background()).Code)
}

func TestInvalidCron(t *testing.T) {
	_, err := NewClock("every minute", "15:04", tmpl, &drawLog{})
	assert.ErrorContains(t, err, "invalid cron")
}

func TestRunTicksUntilCancelled(t *testing.T) {
	d := &drawLog{}
	c, err := NewClock("@every 1s", "15:04:05", tmpl, d)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return d.len() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("clock did not stop")
	}
}

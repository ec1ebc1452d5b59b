package button

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/gpio"
)

type edge struct {
	at    time.Duration
	level gpio.Level
}

// scripted replays edges against a fake clock and cancels once drained.
type scripted struct {
	edges  []edge
	level  gpio.Level
	clock  time.Time
	cancel context.CancelFunc
}

func (s *scripted) WaitForEdge(time.Duration) bool {
	if len(s.edges) == 0 {
		s.cancel()
		return false
	}
	e := s.edges[0]
	s.edges = s.edges[1:]
	s.level = e.level
	s.clock = time.Unix(0, 0).Add(e.at)
	return true
}

func (s *scripted) Read() gpio.Level { return s.level }

func run(edges ...edge) int {
	ctx, cancel := context.WithCancel(context.Background())
	in := &scripted{edges: edges, level: gpio.High, cancel: cancel}
	b := New(in)
	b.now = func() time.Time { return in.clock }

	n := 0
	b.Run(ctx, func(context.Context) { n++ })
	return n
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestPressAndReleaseFiresOnce(t *testing.T) {
	assert.Equal(t, 1, run(
		edge{ms(100), gpio.Low},
		edge{ms(300), gpio.High},
	))
}

func TestPressWithoutReleaseDoesNotFire(t *testing.T) {
	assert.Equal(t, 0, run(edge{ms(100), gpio.Low}))
}

func TestReleaseWithoutPressDoesNotFire(t *testing.T) {
	assert.Equal(t, 0, run(edge{ms(100), gpio.High}))
}

func TestBounceIsIgnored(t *testing.T) {
	assert.Equal(t, 1, run(
		edge{ms(100), gpio.Low},
		edge{ms(105), gpio.High},
		edge{ms(110), gpio.Low},
		edge{ms(400), gpio.High},
		edge{ms(410), gpio.Low},
	))
}

func TestTwoPresses(t *testing.T) {
	assert.Equal(t, 2, run(
		edge{ms(100), gpio.Low},
		edge{ms(300), gpio.High},
		edge{ms(600), gpio.Low},
		edge{ms(800), gpio.High},
	))
}

package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSubscribed(t *testing.T, mr *miniredis.Miniredis, channel string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPublishPrefixesDeviceID(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	b, err := Dial(ctx, Options{Addr: mr.Addr(), DeviceID: "pi1"})
	require.NoError(t, err)
	defer b.Close()

	watcher := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer watcher.Close()
	sub := watcher.Subscribe(ctx, DefaultPublishChannel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "result^draw^0"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pi1^result^draw^0", msg.Payload)
}

type got struct {
	mu   sync.Mutex
	msgs []string
}

func (g *got) handle(_ context.Context, channel, payload string) {
	g.mu.Lock()
	g.msgs = append(g.msgs, channel+"|"+payload)
	g.mu.Unlock()
}

func (g *got) snapshot() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.msgs...)
}

func TestListenDeliversInOrderAndStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Options{})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	g := &got{}
	done := make(chan error, 1)
	go func() { done <- b.Listen(ctx, g.handle) }()

	waitSubscribed(t, mr, "epdpi")
	mr.Publish("epdpi", "clear")
	mr.Publish("epdpi", "draw^^12:30^22^2^0^0")

	require.Eventually(t, func() bool { return len(g.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"epdpi|clear", "epdpi|draw^^12:30^22^2^0^0"}, g.snapshot())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenReturnsErrorOnTransportFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), Options{SubscribeChannel: "cmds"})
	defer b.Close()

	done := make(chan error, 1)
	go func() { done <- b.Listen(context.Background(), func(context.Context, string, string) {}) }()

	waitSubscribed(t, mr, "cmds")
	mr.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener kept running after the server went away")
	}
}

func TestDialFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Dial(context.Background(), Options{Addr: addr})
	assert.Error(t, err)
}

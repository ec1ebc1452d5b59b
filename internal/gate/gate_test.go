package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epdpi/internal/protocol"
)

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) Publish(_ context.Context, msg string) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
	return nil
}

var allow = AuthorizerFunc(func() bool { return true })

func TestCanOperate(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid machine", func(t *testing.T) {
		g := New(&MemoryFlag{}, AuthorizerFunc(func() bool { return false }), nil)
		code, detail, ok := g.CanOperate(ctx)
		assert.False(t, ok)
		assert.Equal(t, protocol.InvalidMachine, code)
		assert.Equal(t, "Invalid machine.", detail)
	})

	t.Run("busy", func(t *testing.T) {
		f := &MemoryFlag{}
		require.NoError(t, f.Set(ctx, true))
		code, detail, ok := New(f, allow, nil).CanOperate(ctx)
		assert.False(t, ok)
		assert.Equal(t, protocol.Busy, code)
		assert.Equal(t, "E-Paper display is busy.", detail)
	})

	t.Run("idle", func(t *testing.T) {
		code, _, ok := New(&MemoryFlag{}, allow, nil).CanOperate(ctx)
		assert.True(t, ok)
		assert.Equal(t, protocol.Success, code)
	})
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	n := &notes{}
	g := New(&MemoryFlag{}, allow, n)

	require.NoError(t, g.Acquire(ctx))
	busy, _ := g.Busy(ctx)
	assert.True(t, busy)

	assert.ErrorIs(t, g.Acquire(ctx), ErrBusy)
	_, _, ok := g.CanOperate(ctx)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx))
	require.NoError(t, g.Release(ctx))
	busy, _ = g.Busy(ctx)
	assert.False(t, busy)

	// One for the acquire, one per release; the failed acquire is silent.
	assert.Equal(t, []string{"busy^updated", "busy^updated", "busy^updated"}, n.msgs)
}

func TestResetDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	f := &MemoryFlag{busy: true}
	n := &notes{}
	g := New(f, allow, n)

	require.NoError(t, g.Reset(ctx))
	busy, _ := f.Get(ctx)
	assert.False(t, busy)
	assert.Empty(t, n.msgs)
}

func TestOnlyOneConcurrentAcquireWins(t *testing.T) {
	ctx := context.Background()
	for name, flag := range map[string]Flag{
		"memory": &MemoryFlag{},
		"redis":  newRedisFlag(t),
	} {
		t.Run(name, func(t *testing.T) {
			g := New(flag, allow, nil)
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if g.Acquire(ctx) == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func newRedisFlag(t *testing.T) *RedisFlag {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFlag(rdb, "")
}

func TestRedisFlagValues(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	f := NewRedisFlag(rdb, "epd_busy")

	busy, err := f.Get(ctx)
	require.NoError(t, err)
	assert.False(t, busy, "missing key reads as idle")

	ok, err := f.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ := mr.Get("epd_busy")
	assert.Equal(t, "1", v)

	ok, err = f.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Set(ctx, false))
	v, _ = mr.Get("epd_busy")
	assert.Equal(t, "0", v)

	// Another process writing the key is seen here.
	require.NoError(t, mr.Set("epd_busy", "1"))
	busy, err = f.Get(ctx)
	require.NoError(t, err)
	assert.True(t, busy)
}

func TestRedisFlagUnavailableDenies(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	code, _, ok := New(NewRedisFlag(rdb, ""), allow, nil).CanOperate(ctx)
	assert.False(t, ok)
	assert.Equal(t, protocol.Exception, code)
}

func TestEnvAuthorizer(t *testing.T) {
	t.Setenv("EPDPI_TEST_MACHINE", "1")
	assert.True(t, EnvAuthorizer{Var: "EPDPI_TEST_MACHINE"}.Authorized())
	assert.False(t, EnvAuthorizer{Var: "EPDPI_TEST_MACHINE_UNSET"}.Authorized())
}

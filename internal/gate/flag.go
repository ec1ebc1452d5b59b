package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the shared key holding the busy flag.
const DefaultKey = "epd_busy"

// Flag is the shared busy bit. It must live somewhere every process that can
// touch the panel sees it; MemoryFlag only covers a single process.
type Flag interface {
	Get(ctx context.Context) (bool, error)
	// TryAcquire flips the flag false->true atomically and reports whether
	// this caller did the flip.
	TryAcquire(ctx context.Context) (bool, error)
	Set(ctx context.Context, busy bool) error
}

// MemoryFlag is a process-local Flag.
type MemoryFlag struct {
	mu   sync.Mutex
	busy bool
}

func (f *MemoryFlag) Get(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy, nil
}

func (f *MemoryFlag) TryAcquire(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false, nil
	}
	f.busy = true
	return true, nil
}

func (f *MemoryFlag) Set(_ context.Context, busy bool) error {
	f.mu.Lock()
	f.busy = busy
	f.mu.Unlock()
	return nil
}

// acquireScript sets the key to "1" unless it already is, in one round trip,
// so two daemons cannot both observe "0" and both start drawing.
var acquireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == "1" then
	return 0
end
redis.call("SET", KEYS[1], "1")
return 1
`)

// RedisFlag stores the flag as "1"/"0" under a Redis key.
type RedisFlag struct {
	rdb redis.Cmdable
	key string
}

// NewRedisFlag returns a Flag backed by key on rdb.
func NewRedisFlag(rdb redis.Cmdable, key string) *RedisFlag {
	if key == "" {
		key = DefaultKey
	}
	return &RedisFlag{rdb: rdb, key: key}
}

func (f *RedisFlag) Get(ctx context.Context) (bool, error) {
	v, err := f.rdb.Get(ctx, f.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gate: read %s: %w", f.key, err)
	}
	return v == "1", nil
}

func (f *RedisFlag) TryAcquire(ctx context.Context) (bool, error) {
	n, err := acquireScript.Run(ctx, f.rdb, []string{f.key}).Int()
	if err != nil {
		return false, fmt.Errorf("gate: acquire %s: %w", f.key, err)
	}
	return n == 1, nil
}

func (f *RedisFlag) Set(ctx context.Context, busy bool) error {
	v := "0"
	if busy {
		v = "1"
	}
	if err := f.rdb.Set(ctx, f.key, v, 0).Err(); err != nil {
		return fmt.Errorf("gate: write %s: %w", f.key, err)
	}
	return nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
)

// Store holds short-lived shared counters and latches
type Store interface {
	// Latch takes key for ttl and reports whether it was free
	Latch(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Allow counts one hit in a fixed window and reports whether the count
	// is within limit
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
	// IncrementStat bumps a persistent counter
	IncrementStat(ctx context.Context, stat string) error
	// GetStat reads a counter, zero when unset
	GetStat(ctx context.Context, stat string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// New returns a Redis-backed store when Redis is enabled and an in-process
// store otherwise
func New(cfg config.RedisConfig) (Store, error) {
	if !cfg.Enabled {
		return NewMemory(), nil
	}
	return NewRedis(cfg)
}

const (
	latchPrefix  = "virex:latch:"
	windowPrefix = "virex:window:"
	statPrefix   = "virex:stat:"
	dialTimeout  = 5 * time.Second
)

// Redis shares latches, windows and counters between instances
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings the server
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", client.Options().Addr, err)
	}
	return &Redis{client: client}, nil
}

// Latch is SET NX with an expiry
func (r *Redis) Latch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, latchPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to take latch %s: %w", key, err)
	}
	return ok, nil
}

// Allow counts with INCR. The first hit of a window starts its expiry.
func (r *Redis) Allow(ctx context.Context, key string, limit int64, win time.Duration) (bool, error) {
	k := windowPrefix + key
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count %s: %w", key, err)
	}
	if n == 1 {
		if err := r.client.Expire(ctx, k, win).Err(); err != nil {
			return false, fmt.Errorf("failed to start window %s: %w", key, err)
		}
	}
	return n <= limit, nil
}

// IncrementStat implements Store
func (r *Redis) IncrementStat(ctx context.Context, stat string) error {
	return r.client.Incr(ctx, statPrefix+stat).Err()
}

// GetStat implements Store
func (r *Redis) GetStat(ctx context.Context, stat string) (int64, error) {
	n, err := r.client.Get(ctx, statPrefix+stat).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Ping implements Store
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store
func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory is a single-process Store
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	latches map[string]time.Time
	windows map[string]window
	stats   map[string]int64
}

type window struct {
	count   int64
	expires time.Time
}

// NewMemory creates an empty in-process store
func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		latches: make(map[string]time.Time),
		windows: make(map[string]window),
		stats:   make(map[string]int64),
	}
}

// Latch implements Store
func (m *Memory) Latch(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.latches[key]; ok && now.Before(until) {
		return false, nil
	}
	m.latches[key] = now.Add(ttl)
	return true, nil
}

// Allow implements Store
func (m *Memory) Allow(_ context.Context, key string, limit int64, win time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w := m.windows[key]
	if !now.Before(w.expires) {
		w = window{expires: now.Add(win)}
	}
	w.count++
	m.windows[key] = w
	return w.count <= limit, nil
}

// IncrementStat implements Store
func (m *Memory) IncrementStat(_ context.Context, stat string) error {
	m.mu.Lock()
	m.stats[stat]++
	m.mu.Unlock()
	return nil
}

// GetStat implements Store
func (m *Memory) GetStat(_ context.Context, stat string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[stat], nil
}

// Ping implements Store
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store
func (m *Memory) Close() error { return nil }

// Package redis is the shared cache backend: a model.CacheStore on go-redis
// guarded by a circuit breaker so an unreachable server degrades to misses.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coinfeed/internal/metrics"

	goredis "github.com/go-redis/redis/v8"
)

const (
	keyPrefix        = "coinfeed:"
	breakerFailures  = 5
	breakerReset     = 10 * time.Second
	defaultOpTimeout = 2 * time.Second
)

// Config configures the Redis store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Store implements model.CacheStore on Redis. Values are stored with a native
// expiry so Redis enforces the TTL.
type Store struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	log     *slog.Logger
	timeout time.Duration
}

// New creates a Store and pings the server. m may be nil.
func New(ctx context.Context, cfg Config, log *slog.Logger, m *metrics.Metrics) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := NewWithClient(client, log, m)
	s.log.Info("connected", "addr", cfg.Addr)
	return s, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, log *slog.Logger, m *metrics.Metrics) *Store {
	l := log.With("component", "redis")
	cb := NewCircuitBreaker(breakerFailures, breakerReset)
	cb.OnStateChange = func(from, to State) {
		l.Warn("circuit breaker transition", "from", from.String(), "to", to.String())
		m.BreakerState(int(to), to == StateOpen)
	}
	return &Store{
		client:  client,
		breaker: cb,
		log:     l,
		timeout: defaultOpTimeout,
	}
}

// Breaker exposes the circuit breaker state for tests and health output.
func (s *Store) Breaker() *CircuitBreaker { return s.breaker }

// Get returns the value for key. Errors and an open breaker both read as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	err := s.breaker.Execute(func() error {
		octx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		b, err := s.client.Get(octx, keyPrefix+key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		val = b
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			s.log.Warn("get failed", "key", key, "err", err)
		}
		return nil, false
	}
	if val == nil {
		return nil, false
	}
	return val, true
}

// Set stores value with ttl. Redis reads a zero expiry as "keep forever", so a
// non-positive ttl removes the key instead.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		s.Delete(ctx, key)
		return
	}
	err := s.breaker.Execute(func() error {
		octx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.client.Set(octx, keyPrefix+key, value, ttl).Err()
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		s.log.Warn("set failed", "key", key, "err", err)
	}
}

func (s *Store) Delete(ctx context.Context, key string) {
	err := s.breaker.Execute(func() error {
		octx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.client.Del(octx, keyPrefix+key).Err()
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		s.log.Warn("delete failed", "key", key, "err", err)
	}
}

// Ping bypasses the breaker so health checks see the real server state.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }

package redis

import (
	"context"
	"testing"
	"time"

	"coinfeed/internal/logger"

	goredis "github.com/go-redis/redis/v8"
)

// unreachable returns a store whose client can never connect.
func unreachable() *Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	return NewWithClient(client, logger.Discard(), nil)
}

func TestStore_UnreachableReadsAsMiss(t *testing.T) {
	s := unreachable()
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "crypto_list", []byte("x"), time.Hour)
	if _, ok := s.Get(ctx, "crypto_list"); ok {
		t.Fatal("expected miss from unreachable redis")
	}
}

func TestStore_BreakerOpensOnRepeatedFailure(t *testing.T) {
	s := unreachable()
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < breakerFailures; i++ {
		s.Get(ctx, "k")
	}
	if s.Breaker().CurrentState() != StateOpen {
		t.Fatalf("breaker state: got %v, want open", s.Breaker().CurrentState())
	}

	start := time.Now()
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("open breaker returned a hit")
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Error("open breaker still dialled redis")
	}
}

func TestStore_PingReportsFailure(t *testing.T) {
	s := unreachable()
	defer s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}

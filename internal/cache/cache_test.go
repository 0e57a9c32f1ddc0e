package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coinfeed/internal/logger"
	"coinfeed/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("empty store returned a hit")
	}
	s.Set(ctx, "k", []byte("v1"), time.Hour)
	s.Set(ctx, "k", []byte("v2"), time.Hour) // last writer wins
	if v, ok := s.Get(ctx, "k"); !ok || string(v) != "v2" {
		t.Fatalf("got %q, %v", v, ok)
	}
	s.Delete(ctx, "k")
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("deleted key still present")
	}
	s.Delete(ctx, "missing") // no-op
}

func TestMemoryStore_ExpiryIsMiss(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := NewMemoryStore().WithClock(clock.Now)

	s.Set(ctx, "k", []byte("v"), 10*time.Second)
	clock.Advance(9 * time.Second)
	if _, ok := s.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}
	clock.Advance(time.Second) // now == expiry
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("expected miss at expiry")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry not dropped on read, len=%d", s.Len())
	}
}

func TestMemoryStore_ZeroTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Set(ctx, "k", []byte("v"), 0)
	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("ttl=0 entry should read as absent")
	}
}

func TestFetchCached_HitShortCircuits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := NewFetcher(s, logger.Discard(), nil)
	s.Set(ctx, "crypto_list", []byte(`[1]`), time.Hour)

	var calls int32
	v, err := f.FetchCached(ctx, "crypto_list", time.Hour, func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`[2]`), nil
	})
	if err != nil || string(v) != `[1]` {
		t.Fatalf("got %q, %v", v, err)
	}
	if calls != 0 {
		t.Fatalf("fetch called %d times on a hit", calls)
	}
}

func TestFetchCached_MissStoresWithTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := NewMemoryStore().WithClock(clock.Now)
	f := NewFetcher(s, logger.Discard(), nil)

	var calls int32
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("payload"), nil
	}
	for i := 0; i < 3; i++ {
		if _, err := f.FetchCached(ctx, "k", time.Minute, fetch); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Fatalf("fetch calls: got %d, want 1", calls)
	}
	clock.Advance(time.Minute)
	if _, err := f.FetchCached(ctx, "k", time.Minute, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("fetch calls after expiry: got %d, want 2", calls)
	}
}

func TestFetchCached_FailureNotCached(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := NewFetcher(s, logger.Discard(), nil)

	upstream := &model.UpstreamStatusError{Endpoint: "markets", Status: 500}
	_, err := f.FetchCached(ctx, "crypto_list", time.Hour, func(context.Context) ([]byte, error) {
		return nil, upstream
	})
	var fe *model.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Key != "crypto_list" || !errors.Is(err, upstream) {
		t.Errorf("cause not preserved: %v", err)
	}
	if _, ok := s.Get(ctx, "crypto_list"); ok {
		t.Fatal("failure was cached")
	}

	v, err := f.FetchCached(ctx, "crypto_list", time.Hour, func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(v) != "ok" {
		t.Fatalf("retry after failure: %q, %v", v, err)
	}
}

func TestFetchCached_ConcurrentMissesShareOneFetch(t *testing.T) {
	ctx := context.Background()
	f := NewFetcher(NewMemoryStore(), logger.Discard(), nil)

	var calls int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("v"), nil
	}

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.FetchCached(ctx, "chart_data_bitcoin_daily_line", time.Hour, fetch)
			if err == nil && string(v) != "v" {
				err = errors.New("wrong value " + string(v))
			}
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Fatalf("stampede: fetch called %d times, want 1", calls)
	}
}

func TestFetchCached_CallerCancelDoesNotFailOthers(t *testing.T) {
	f := NewFetcher(NewMemoryStore(), logger.Discard(), nil)
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]byte, error) {
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []byte("v"), nil
	}

	cctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.FetchCached(cctx, "k", time.Hour, fetch)
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := f.FetchCached(context.Background(), "k", time.Hour, fetch)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) || model.IsFetchError(err) {
		t.Fatalf("cancelled caller: want bare context.Canceled, got %v", err)
	}
	close(release)
	if err := <-second; err != nil {
		t.Fatalf("waiting caller failed: %v", err)
	}
}

func TestResourceOf(t *testing.T) {
	tests := map[string]string{
		"crypto_list":                       "crypto_list",
		"crypto_detail_bitcoin":             "crypto_detail",
		"chart_data_bitcoin_daily_line":     "chart_data",
		"coingecko_prices_bitcoin_ethereum": "coingecko_prices",
		"plain":                             "plain",
	}
	for in, want := range tests {
		if got := resourceOf(in); got != want {
			t.Errorf("resourceOf(%q) = %q, want %q", in, got, want)
		}
	}
}

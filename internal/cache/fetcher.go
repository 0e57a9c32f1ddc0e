package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"coinfeed/internal/metrics"
	"coinfeed/internal/model"

	"golang.org/x/sync/singleflight"
)

// FetchFunc performs the provider call for a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Fetcher is the single read-through path to the provider. Concurrent misses
// for one key share a single in-flight fetch; failures are never cached.
type Fetcher struct {
	store   model.CacheStore
	group   singleflight.Group
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewFetcher wraps store. m may be nil.
func NewFetcher(store model.CacheStore, log *slog.Logger, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		store:   store,
		log:     log.With("component", "cache"),
		metrics: m,
	}
}

// Store exposes the underlying cache for explicit invalidation.
func (f *Fetcher) Store() model.CacheStore { return f.store }

// FetchCached returns the cached value for key, or runs fetch, stores its
// result for ttl and returns it. Fetch failures come back as
// *model.FetchError. The one exception is the caller's own ctx ending: the
// caller stops waiting and gets the bare ctx.Err(), since nothing upstream
// failed.
//
// The in-flight fetch is detached from ctx so that one caller going away does
// not fail the others waiting on the same key.
func (f *Fetcher) FetchCached(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	resource := resourceOf(key)
	if v, ok := f.store.Get(ctx, key); ok {
		f.log.Debug("cache hit", "key", key)
		f.metrics.CacheResult(resource, "hit")
		return v, nil
	}

	ch := f.group.DoChan(key, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		// a flight that finished between our Get and DoChan may have filled it
		if v, ok := f.store.Get(fctx, key); ok {
			return v, nil
		}
		f.log.Debug("cache miss, fetching from provider", "key", key)
		f.metrics.CacheResult(resource, "miss")
		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		f.store.Set(fctx, key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			f.metrics.CacheResult(resource, "error")
			f.log.Warn("fetch failed", "key", key, "err", res.Err)
			var fe *model.FetchError
			if errors.As(res.Err, &fe) {
				return nil, res.Err
			}
			return nil, &model.FetchError{Key: key, Err: res.Err}
		}
		return res.Val.([]byte), nil
	}
}

// resourceOf keeps the first two "_" segments of a key ("chart_data_bitcoin_..."
// -> "chart_data") so metric labels stay bounded.
func resourceOf(key string) string {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) < 2 {
		return key
	}
	return parts[0] + "_" + parts[1]
}

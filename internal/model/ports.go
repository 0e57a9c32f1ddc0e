package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the services from concrete backends
// (Redis, in-memory, HTTP provider, SQL). Implementations live under
// internal/cache, internal/store and internal/provider.

// CacheStore is the process-wide key/value store with per-key TTL.
// A missing or expired key is reported as absence, never as an error.
type CacheStore interface {
	// Get returns the value for key, or false once now >= expiry.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set overwrites key unconditionally. ttl <= 0 stores an already-expired entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes key if present.
	Delete(ctx context.Context, key string)
}

// MarketProvider is the upstream market-data API. Every method returns the raw
// JSON body on HTTP 200, a *TransportError or a *UpstreamStatusError otherwise.
type MarketProvider interface {
	Markets(ctx context.Context, perPage, page int) ([]byte, error)
	Coin(ctx context.Context, slug string) ([]byte, error)
	MarketChart(ctx context.Context, slug string, days int) ([]byte, error)
	OHLC(ctx context.Context, slug string, days int) ([]byte, error)
	SimplePrice(ctx context.Context, ids []string) ([]byte, error)
}

// LedgerStore persists portfolio transactions.
type LedgerStore interface {
	Create(ctx context.Context, tx *Transaction) error
	ListByUser(ctx context.Context, userID string) ([]Transaction, error)
	Delete(ctx context.Context, userID, id string) error
}

// FavoriteStore persists followed coins.
type FavoriteStore interface {
	Add(ctx context.Context, userID, coinID string) (*Favorite, error)
	List(ctx context.Context, userID string) ([]Favorite, error)
	Remove(ctx context.Context, userID, coinID string) error
}

// Package market serves the coin listing and single-coin detail snapshots.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"coinfeed/internal/cache"
	"coinfeed/internal/model"
)

const (
	ListKey     = "crypto_list"
	SnapshotTTL = time.Hour

	defaultPerPage = 20
)

// DetailKey is the cache key for one coin's detail payload.
func DetailKey(slug string) string { return "crypto_detail_" + slug }

// SnapshotService shapes cached provider payloads into the public schema.
// The cache holds the raw provider body, but only once it has shaped
// cleanly, so a malformed 200 answer is never stored.
type SnapshotService struct {
	fetcher  *cache.Fetcher
	provider model.MarketProvider
	perPage  int
	log      *slog.Logger
}

func NewSnapshotService(f *cache.Fetcher, p model.MarketProvider, perPage int, log *slog.Logger) *SnapshotService {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return &SnapshotService{
		fetcher:  f,
		provider: p,
		perPage:  perPage,
		log:      log.With("component", "market"),
	}
}

// ListSnapshot returns the top coins by market cap. refresh drops the cached
// listing first, whether or not one exists.
func (s *SnapshotService) ListSnapshot(ctx context.Context, refresh bool) ([]model.CoinSummary, error) {
	if refresh {
		s.log.Info("listing refresh requested")
		s.fetcher.Store().Delete(ctx, ListKey)
	}
	raw, err := s.fetcher.FetchCached(ctx, ListKey, SnapshotTTL, func(ctx context.Context) ([]byte, error) {
		body, err := s.provider.Markets(ctx, s.perPage, 1)
		if err != nil {
			return nil, err
		}
		if _, err := shapeListing(body); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	coins, err := shapeListing(raw)
	if err != nil {
		return nil, &model.FetchError{Key: ListKey, Err: err}
	}
	return coins, nil
}

func shapeListing(raw []byte) ([]model.CoinSummary, error) {
	var coins []model.CoinSummary
	if err := json.Unmarshal(raw, &coins); err != nil {
		return nil, &model.ShapingError{What: "coin listing", Err: err}
	}
	if coins == nil {
		coins = []model.CoinSummary{}
	}
	return coins, nil
}

// DetailSnapshot returns the flattened detail record for slug.
func (s *SnapshotService) DetailSnapshot(ctx context.Context, slug string) (*model.CoinDetail, error) {
	key := DetailKey(slug)
	raw, err := s.fetcher.FetchCached(ctx, key, SnapshotTTL, func(ctx context.Context) ([]byte, error) {
		body, err := s.provider.Coin(ctx, slug)
		if err != nil {
			return nil, err
		}
		if _, err := ShapeDetail(body); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	d, err := ShapeDetail(raw)
	if err != nil {
		return nil, &model.FetchError{Key: key, Err: err}
	}
	return d, nil
}

// ShapeDetail flattens a provider coin document. Missing paths take the
// field's default; a present null stays null.
func ShapeDetail(raw []byte) (*model.CoinDetail, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, &model.ShapingError{What: "coin detail", Err: err}
	}
	if doc == nil {
		return nil, &model.ShapingError{What: "coin detail: null document"}
	}

	na := model.NotAvailable
	rank, ok := lookup(doc, "market_cap_rank")
	if !ok {
		rank = pick(doc, na, "market_data", "market_cap_rank")
	}

	return &model.CoinDetail{
		Name:                     pick(doc, nil, "name"),
		Image:                    pick(doc, nil, "image", "thumb"),
		Symbol:                   pick(doc, nil, "symbol"),
		CurrentPrice:             pick(doc, na, "market_data", "current_price", "usd"),
		Rank:                     rank,
		PriceChangePercentage24h: pick(doc, na, "market_data", "price_change_percentage_24h"),
		MarketCap:                pick(doc, na, "market_data", "market_cap", "usd"),
		TotalVolume:              pick(doc, na, "market_data", "total_volume", "usd"),
		TotalSupply:              pick(doc, na, "market_data", "total_supply"),
		MaxSupply:                pick(doc, na, "market_data", "max_supply"),
		CirculatingSupply:        pick(doc, na, "market_data", "circulating_supply"),
		FDV:                      pick(doc, na, "market_data", "fully_diluted_valuation", "usd"),
		High24h:                  pick(doc, na, "market_data", "high_24h", "usd"),
		Low24h:                   pick(doc, na, "market_data", "low_24h", "usd"),
		ATH:                      pick(doc, na, "market_data", "ath", "usd"),
	}, nil
}

func pick(doc map[string]any, def any, path ...string) any {
	if v, ok := lookup(doc, path...); ok {
		return v
	}
	return def
}

// lookup walks path through nested objects. It fails on a missing key or
// when an intermediate value is not an object.
func lookup(doc map[string]any, path ...string) (any, bool) {
	var cur any = doc
	for _, k := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

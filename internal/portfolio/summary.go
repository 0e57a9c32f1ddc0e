package portfolio

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"coinfeed/internal/cache"
	"coinfeed/internal/model"

	"github.com/shopspring/decimal"
)

const PricesTTL = time.Hour

// PricesKey is the cache key for a batch price lookup.
func PricesKey(ids []string) string {
	return "coingecko_prices_" + strings.Join(ids, "_")
}

// Holding is one coin's line in the portfolio summary.
type Holding struct {
	CoinID       string
	Amount       decimal.Decimal
	TotalSpent   decimal.Decimal
	CurrentPrice decimal.Decimal
	CurrentValue decimal.Decimal
	ProfitLoss   decimal.Decimal
}

// MarshalJSON writes the money fields as JSON numbers.
func (h Holding) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CoinID       string      `json:"coin_id"`
		Amount       json.Number `json:"amount"`
		TotalSpent   json.Number `json:"total_spent"`
		CurrentPrice json.Number `json:"current_price"`
		CurrentValue json.Number `json:"current_value"`
		ProfitLoss   json.Number `json:"profit_loss"`
	}{
		h.CoinID,
		json.Number(h.Amount.String()),
		json.Number(h.TotalSpent.String()),
		json.Number(h.CurrentPrice.String()),
		json.Number(h.CurrentValue.String()),
		json.Number(h.ProfitLoss.String()),
	})
}

// Position is the running total for one coin.
type Position struct {
	Amount decimal.Decimal
	Spent  decimal.Decimal
}

// Aggregate folds a ledger into per-coin amount and net spend.
//
//	buy:          amount += a   spent += a*p + fee
//	sell:         amount -= a   spent -= a*p - fee
//	transfer_in:  amount += a
//	transfer_out: amount -= a + fee
func Aggregate(txs []model.Transaction) map[string]*Position {
	out := make(map[string]*Position)
	for _, tx := range txs {
		p, ok := out[tx.CoinID]
		if !ok {
			p = &Position{}
			out[tx.CoinID] = p
		}
		fee := decimal.Zero
		if tx.Fee != nil {
			fee = *tx.Fee
		}
		cost := tx.Amount.Mul(tx.PriceUSD)
		switch tx.Type {
		case model.TxBuy:
			p.Amount = p.Amount.Add(tx.Amount)
			p.Spent = p.Spent.Add(cost).Add(fee)
		case model.TxSell:
			p.Amount = p.Amount.Sub(tx.Amount)
			p.Spent = p.Spent.Sub(cost.Sub(fee))
		case model.TxTransferIn:
			p.Amount = p.Amount.Add(tx.Amount)
		case model.TxTransferOut:
			p.Amount = p.Amount.Sub(tx.Amount.Add(fee))
		}
	}
	return out
}

// Summarizer values a user's ledger at current prices.
type Summarizer struct {
	ledger   model.LedgerStore
	fetcher  *cache.Fetcher
	provider model.MarketProvider
	log      *slog.Logger
}

func NewSummarizer(l model.LedgerStore, f *cache.Fetcher, p model.MarketProvider, log *slog.Logger) *Summarizer {
	return &Summarizer{ledger: l, fetcher: f, provider: p, log: log.With("component", "portfolio")}
}

// Summarize returns one Holding per coin, sorted by coin id. A coin the
// provider has no price for is valued at zero.
func (s *Summarizer) Summarize(ctx context.Context, userID string) ([]Holding, error) {
	txs, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions := Aggregate(txs)
	if len(positions) == 0 {
		return []Holding{}, nil
	}

	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	prices, err := s.prices(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Holding, 0, len(ids))
	for _, id := range ids {
		p := positions[id]
		price := prices[id]
		value := price.Mul(p.Amount)
		out = append(out, Holding{
			CoinID:       id,
			Amount:       p.Amount.Round(8),
			TotalSpent:   p.Spent.Round(2),
			CurrentPrice: price.Round(2),
			CurrentValue: value.Round(2),
			ProfitLoss:   value.Sub(p.Spent).Round(2),
		})
	}
	return out, nil
}

func (s *Summarizer) prices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	raw, err := s.fetcher.FetchCached(ctx, PricesKey(ids), PricesTTL, func(ctx context.Context) ([]byte, error) {
		return s.provider.SimplePrice(ctx, ids)
	})
	if err != nil {
		return nil, err
	}

	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &model.ShapingError{What: "simple price", Err: err}
	}
	out := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		n, ok := payload[id]["usd"]
		if !ok || n == "" {
			s.log.Warn("no price for coin", "coin_id", id)
			out[id] = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return nil, &model.ShapingError{What: "price for " + id, Err: err}
		}
		out[id] = d
	}
	return out, nil
}

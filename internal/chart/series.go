// Package chart builds line and candlestick series from provider history.
package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"coinfeed/internal/cache"
	"coinfeed/internal/model"
)

// SeriesKey encodes all three request dimensions.
func SeriesKey(slug string, interval model.Interval, kind model.ChartKind) string {
	return fmt.Sprintf("chart_data_%s_%s_%s", slug, interval, kind)
}

// Service computes chart series through the cached fetcher. Shaped points are
// what gets cached, so a payload that fails to shape is never stored.
type Service struct {
	fetcher  *cache.Fetcher
	provider model.MarketProvider
	log      *slog.Logger
}

func NewService(f *cache.Fetcher, p model.MarketProvider, log *slog.Logger) *Service {
	return &Service{fetcher: f, provider: p, log: log.With("component", "chart")}
}

// Series returns the points for slug, oldest first. Errors are *model.FetchError.
func (s *Service) Series(ctx context.Context, slug string, interval model.Interval, kind model.ChartKind) ([]model.ChartPoint, error) {
	if !kind.Valid() {
		return nil, &model.ValidationError{Field: "kind", Value: string(kind)}
	}
	key := SeriesKey(slug, interval, kind)
	days := interval.WindowDays()

	raw, err := s.fetcher.FetchCached(ctx, key, interval.TTL(), func(ctx context.Context) ([]byte, error) {
		var (
			body   []byte
			err    error
			points []model.ChartPoint
		)
		if kind == model.KindCandlestick {
			if body, err = s.provider.OHLC(ctx, slug, days); err != nil {
				return nil, err
			}
			points, err = ShapeCandles(body)
		} else {
			if body, err = s.provider.MarketChart(ctx, slug, days); err != nil {
				return nil, err
			}
			points, err = ShapeLine(body)
		}
		if err != nil {
			return nil, err
		}
		s.log.Debug("series shaped", "key", key, "points", len(points))
		return json.Marshal(points)
	})
	if err != nil {
		return nil, err
	}

	var points []model.ChartPoint
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, &model.FetchError{Key: key, Err: &model.ShapingError{What: "cached series", Err: err}}
	}
	if points == nil {
		points = []model.ChartPoint{}
	}
	return points, nil
}

// ShapeLine turns {"prices": [[ts, price], ...]} into line points. A payload
// without "prices" is an empty series.
func ShapeLine(body []byte) ([]model.ChartPoint, error) {
	var payload struct {
		Prices [][]*float64 `json:"prices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &model.ShapingError{What: "market chart", Err: err}
	}
	points := make([]model.ChartPoint, 0, len(payload.Prices))
	for i, row := range payload.Prices {
		if err := checkRow(row, 2); err != nil {
			return nil, &model.ShapingError{What: fmt.Sprintf("prices[%d]", i), Err: err}
		}
		points = append(points, model.LinePoint(int64(*row[0]), *row[1]))
	}
	return points, nil
}

// ShapeCandles turns [[ts, open, high, low, close], ...] into candlestick points.
func ShapeCandles(body []byte) ([]model.ChartPoint, error) {
	var rows [][]*float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &model.ShapingError{What: "ohlc", Err: err}
	}
	points := make([]model.ChartPoint, 0, len(rows))
	for i, row := range rows {
		if err := checkRow(row, 5); err != nil {
			return nil, &model.ShapingError{What: fmt.Sprintf("ohlc[%d]", i), Err: err}
		}
		points = append(points, model.CandlePoint(int64(*row[0]), *row[1], *row[2], *row[3], *row[4]))
	}
	return points, nil
}

func checkRow(row []*float64, want int) error {
	if len(row) < want {
		return fmt.Errorf("want %d values, got %d", want, len(row))
	}
	for j := 0; j < want; j++ {
		if row[j] == nil {
			return fmt.Errorf("value %d is null", j)
		}
	}
	return nil
}

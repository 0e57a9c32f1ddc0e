package chart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"coinfeed/internal/cache"
	"coinfeed/internal/logger"
	"coinfeed/internal/model"
)

type fakeProvider struct {
	mu        sync.Mutex
	chart     []byte
	ohlc      []byte
	err       error
	chartDays []int
	ohlcDays  []int
}

func (p *fakeProvider) MarketChart(_ context.Context, _ string, days int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chartDays = append(p.chartDays, days)
	return p.chart, p.err
}

func (p *fakeProvider) OHLC(_ context.Context, _ string, days int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ohlcDays = append(p.ohlcDays, days)
	return p.ohlc, p.err
}

func (p *fakeProvider) Markets(context.Context, int, int) ([]byte, error)     { return nil, nil }
func (p *fakeProvider) Coin(context.Context, string) ([]byte, error)          { return nil, nil }
func (p *fakeProvider) SimplePrice(context.Context, []string) ([]byte, error) { return nil, nil }

func newService(p *fakeProvider) (*Service, *cache.MemoryStore) {
	store := cache.NewMemoryStore()
	return NewService(cache.NewFetcher(store, logger.Discard(), nil), p, logger.Discard()), store
}

func TestSeries_DailyLine(t *testing.T) {
	p := &fakeProvider{chart: []byte(`{"prices": [[1700000000000, 50000], [1700003600000, 50500]]}`)}
	svc, _ := newService(p)

	pts, err := svc.Series(context.Background(), "bitcoin", model.IntervalDaily, model.KindLine)
	if err != nil {
		t.Fatal(err)
	}
	want := []model.ChartPoint{
		model.LinePoint(1700000000000, 50000),
		model.LinePoint(1700003600000, 50500),
	}
	if len(pts) != len(want) {
		t.Fatalf("got %d points", len(pts))
	}
	for i := range want {
		if pts[i] != want[i] {
			t.Errorf("point %d: got %+v, want %+v", i, pts[i], want[i])
		}
	}
	if len(p.chartDays) != 1 || p.chartDays[0] != 365 {
		t.Errorf("lookback: got %v, want [365]", p.chartDays)
	}
}

func TestSeries_Candlestick(t *testing.T) {
	p := &fakeProvider{ohlc: []byte(`[[1700000000000, 1, 3, 0.5, 2], [1700000300000, 2, 4, 1, 3]]`)}
	svc, _ := newService(p)

	pts, err := svc.Series(context.Background(), "bitcoin", model.IntervalFiveMin, model.KindCandlestick)
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != 2 || pts[0] != model.CandlePoint(1700000000000, 1, 3, 0.5, 2) || pts[1].Timestamp != 1700000300000 {
		t.Errorf("unexpected points %+v", pts)
	}
	if len(p.ohlcDays) != 1 || p.ohlcDays[0] != 1 {
		t.Errorf("lookback: got %v, want [1]", p.ohlcDays)
	}
}

func TestSeries_UnknownIntervalUsesDefaultWindow(t *testing.T) {
	p := &fakeProvider{chart: []byte(`{"prices": []}`)}
	svc, _ := newService(p)
	pts, err := svc.Series(context.Background(), "bitcoin", model.Interval("weekly"), model.KindLine)
	if err != nil {
		t.Fatal(err)
	}
	if pts == nil || len(pts) != 0 {
		t.Errorf("expected empty non-nil series, got %v", pts)
	}
	if p.chartDays[0] != 30 {
		t.Errorf("lookback: got %d, want 30", p.chartDays[0])
	}
}

func TestSeriesKey_KindDistinguishesEntries(t *testing.T) {
	p := &fakeProvider{
		chart: []byte(`{"prices": [[1, 10]]}`),
		ohlc:  []byte(`[[1, 10, 11, 9, 10.5]]`),
	}
	svc, store := newService(p)
	ctx := context.Background()

	line, _ := svc.Series(ctx, "bitcoin", model.IntervalHourly, model.KindLine)
	candle, _ := svc.Series(ctx, "bitcoin", model.IntervalHourly, model.KindCandlestick)
	if line[0].Kind != model.KindLine || candle[0].Kind != model.KindCandlestick {
		t.Fatalf("kinds collided: %+v / %+v", line[0], candle[0])
	}

	keys := map[string]bool{}
	for _, iv := range []model.Interval{model.IntervalFiveMin, model.IntervalHourly, model.IntervalDaily} {
		for _, k := range []model.ChartKind{model.KindLine, model.KindCandlestick} {
			key := SeriesKey("bitcoin", iv, k)
			if keys[key] {
				t.Errorf("duplicate key %s", key)
			}
			keys[key] = true
		}
	}
	if _, ok := store.Get(ctx, "chart_data_bitcoin_hourly_line"); !ok {
		t.Error("line series not cached under expected key")
	}
	if _, ok := store.Get(ctx, "chart_data_bitcoin_hourly_candlestick"); !ok {
		t.Error("candlestick series not cached under expected key")
	}
}

func TestSeries_CachedWithinTTL(t *testing.T) {
	p := &fakeProvider{chart: []byte(`{"prices": [[1, 10]]}`)}
	svc, _ := newService(p)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Series(ctx, "bitcoin", model.IntervalDaily, model.KindLine); err != nil {
			t.Fatal(err)
		}
	}
	if len(p.chartDays) != 1 {
		t.Errorf("provider calls: got %d, want 1", len(p.chartDays))
	}
}

func TestSeries_ShapingErrorIsFetchErrorAndNotCached(t *testing.T) {
	p := &fakeProvider{chart: []byte(`{"prices": [[1700000000000]]}`)}
	svc, store := newService(p)
	ctx := context.Background()

	_, err := svc.Series(ctx, "bitcoin", model.IntervalDaily, model.KindLine)
	var fe *model.FetchError
	var se *model.ShapingError
	if !errors.As(err, &fe) || !errors.As(err, &se) {
		t.Fatalf("expected FetchError wrapping ShapingError, got %v", err)
	}
	if _, ok := store.Get(ctx, SeriesKey("bitcoin", model.IntervalDaily, model.KindLine)); ok {
		t.Error("bad payload was cached")
	}
}

func TestSeries_UpstreamError(t *testing.T) {
	p := &fakeProvider{err: &model.UpstreamStatusError{Endpoint: "market_chart", Status: 404}}
	svc, _ := newService(p)
	_, err := svc.Series(context.Background(), "nope", model.IntervalDaily, model.KindLine)
	if !model.IsFetchError(err) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestShape_NullValue(t *testing.T) {
	if _, err := ShapeCandles([]byte(`[[1, 2, null, 1, 2]]`)); err == nil {
		t.Error("null ohlc value accepted")
	}
	if _, err := ShapeLine([]byte(`{"prices": "nope"}`)); err == nil {
		t.Error("non-array prices accepted")
	}
}

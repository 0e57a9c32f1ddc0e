package model

import "encoding/json"

// ChartPoint is one element of a series. Line points carry Price; candlestick
// points carry Open/High/Low/Close. Points are never mutated after shaping.
type ChartPoint struct {
	Kind      ChartKind
	Timestamp int64 // unix milliseconds, as the provider reports it
	Price     float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// LinePoint builds a {timestamp, price} point.
func LinePoint(ts int64, price float64) ChartPoint {
	return ChartPoint{Kind: KindLine, Timestamp: ts, Price: price}
}

// CandlePoint builds a {timestamp, open, high, low, close} point.
func CandlePoint(ts int64, open, high, low, close float64) ChartPoint {
	return ChartPoint{Kind: KindCandlestick, Timestamp: ts, Open: open, High: high, Low: low, Close: close}
}

type linePointJSON struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

type candlePointJSON struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

// MarshalJSON emits the line or candlestick shape depending on Kind.
func (p ChartPoint) MarshalJSON() ([]byte, error) {
	if p.Kind == KindCandlestick {
		return json.Marshal(candlePointJSON{p.Timestamp, p.Open, p.High, p.Low, p.Close})
	}
	return json.Marshal(linePointJSON{p.Timestamp, p.Price})
}

// UnmarshalJSON accepts either shape; the presence of "open" selects candlestick.
func (p *ChartPoint) UnmarshalJSON(b []byte) error {
	var raw struct {
		Timestamp int64    `json:"timestamp"`
		Price     float64  `json:"price"`
		Open      *float64 `json:"open"`
		High      float64  `json:"high"`
		Low       float64  `json:"low"`
		Close     float64  `json:"close"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Open != nil {
		*p = CandlePoint(raw.Timestamp, *raw.Open, raw.High, raw.Low, raw.Close)
		return nil
	}
	*p = LinePoint(raw.Timestamp, raw.Price)
	return nil
}

// SeriesFrame is one streamed push to a chart client.
type SeriesFrame struct {
	Type     string       `json:"type"` // "data"
	Slug     string       `json:"slug"`
	Interval Interval     `json:"interval"`
	Kind     ChartKind    `json:"kind"`
	Data     []ChartPoint `json:"data"`
}

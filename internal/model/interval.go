package model

import "time"

// Interval is the volatility class of a chart request. Unknown values are
// representable so that the window/TTL policy can apply its defaults.
type Interval string

const (
	IntervalFiveMin Interval = "5min"
	IntervalHourly  Interval = "hourly"
	IntervalDaily   Interval = "daily"
)

// ChartKind selects line (price) or candlestick (OHLC) series.
type ChartKind string

const (
	KindLine        ChartKind = "line"
	KindCandlestick ChartKind = "candlestick"
)

// ── Interval policy ──
// Finer intervals look back less and expire sooner.

type intervalPolicy struct {
	windowDays int
	ttl        time.Duration
	delay      time.Duration
}

var intervalPolicies = map[Interval]intervalPolicy{
	IntervalFiveMin: {windowDays: 1, ttl: 300 * time.Second, delay: 300 * time.Second},
	IntervalHourly:  {windowDays: 30, ttl: time.Hour, delay: time.Hour},
	IntervalDaily:   {windowDays: 365, ttl: 24 * time.Hour, delay: 24 * time.Hour},
}

const (
	defaultWindowDays = 30
	defaultSeriesTTL  = time.Hour
	defaultPushDelay  = 60 * time.Second
)

// WindowDays returns the provider lookback in days.
func (i Interval) WindowDays() int {
	if p, ok := intervalPolicies[i]; ok {
		return p.windowDays
	}
	return defaultWindowDays
}

// TTL returns how long a series for this interval stays cached.
func (i Interval) TTL() time.Duration {
	if p, ok := intervalPolicies[i]; ok {
		return p.ttl
	}
	return defaultSeriesTTL
}

// PushDelay returns the pause between two streamed pushes.
func (i Interval) PushDelay() time.Duration {
	if p, ok := intervalPolicies[i]; ok {
		return p.delay
	}
	return defaultPushDelay
}

// Valid reports whether i is one of the known intervals.
func (i Interval) Valid() bool {
	_, ok := intervalPolicies[i]
	return ok
}

// Valid reports whether k is line or candlestick.
func (k ChartKind) Valid() bool {
	return k == KindLine || k == KindCandlestick
}

// ParseInterval validates a client-supplied interval. Empty input yields def.
func ParseInterval(s string, def Interval) (Interval, error) {
	if s == "" {
		return def, nil
	}
	i := Interval(s)
	if !i.Valid() {
		return "", &ValidationError{Field: "interval", Value: s}
	}
	return i, nil
}

// ParseChartKind validates a client-supplied chart kind. Empty input yields def.
func ParseChartKind(s string, def ChartKind) (ChartKind, error) {
	if s == "" {
		return def, nil
	}
	k := ChartKind(s)
	if !k.Valid() {
		return "", &ValidationError{Field: "kind", Value: s}
	}
	return k, nil
}

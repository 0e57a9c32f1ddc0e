// Package provider is the HTTP client for the upstream market-data provider.
// Every method issues one GET and returns the raw JSON body; callers decide
// how to cache and shape it.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coinfeed/internal/metrics"
	"coinfeed/internal/model"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	defaultTimeout = 10 * time.Second
	previewLen     = 120
	vsCurrency     = "usd"
	apiKeyHeader   = "x-cg-demo-api-key"
	maxBodyBytes   = 16 << 20
)

// Config configures the provider client.
type Config struct {
	BaseURL string        // default: DefaultBaseURL
	APIKey  string        // optional, sent as x-cg-demo-api-key
	Timeout time.Duration // default: 10s
}

// Client implements model.MarketProvider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New builds a client. m may be nil.
func New(cfg Config, log *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.With("component", "provider"),
		metrics: m,
	}
}

// Markets lists coins sorted by market cap, descending.
func (c *Client) Markets(ctx context.Context, perPage, page int) ([]byte, error) {
	q := url.Values{}
	q.Set("vs_currency", vsCurrency)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("sparkline", "false")
	return c.get(ctx, "markets", "/coins/markets", q)
}

// Coin returns the full detail document for one coin.
func (c *Client) Coin(ctx context.Context, slug string) ([]byte, error) {
	return c.get(ctx, "coin", "/coins/"+url.PathEscape(slug), nil)
}

// MarketChart returns {"prices": [[ts, price], ...], ...} over the last days.
func (c *Client) MarketChart(ctx context.Context, slug string, days int) ([]byte, error) {
	q := url.Values{}
	q.Set("vs_currency", vsCurrency)
	q.Set("days", strconv.Itoa(days))
	return c.get(ctx, "market_chart", "/coins/"+url.PathEscape(slug)+"/market_chart", q)
}

// OHLC returns [[ts, open, high, low, close], ...] over the last days.
func (c *Client) OHLC(ctx context.Context, slug string, days int) ([]byte, error) {
	q := url.Values{}
	q.Set("vs_currency", vsCurrency)
	q.Set("days", strconv.Itoa(days))
	return c.get(ctx, "ohlc", "/coins/"+url.PathEscape(slug)+"/ohlc", q)
}

// SimplePrice returns {"<id>": {"usd": price}, ...} for ids.
func (c *Client) SimplePrice(ctx context.Context, ids []string) ([]byte, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", vsCurrency)
	return c.get(ctx, "simple_price", "/simple/price", q)
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &model.TransportError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveProvider(endpoint, time.Since(start))
	if err != nil {
		terr := &model.TransportError{Endpoint: endpoint, Err: err}
		c.metrics.ProviderError(transportKind(terr))
		c.log.Warn("request failed", "endpoint", endpoint, "err", err)
		return nil, terr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		terr := &model.TransportError{Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
		c.metrics.ProviderError(transportKind(terr))
		return nil, terr
	}
	if len(body) > maxBodyBytes {
		c.metrics.ProviderError("transport")
		c.log.Warn("provider body too large", "endpoint", endpoint, "limit", maxBodyBytes)
		return nil, &model.TransportError{Endpoint: endpoint, Err: fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, maxBodyBytes)}
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.ProviderError("status")
		c.log.Warn("non-200 from provider", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, &model.UpstreamStatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: preview(body)}
	}
	c.log.Debug("fetched", "endpoint", endpoint, "bytes", len(body), "took", time.Since(start))
	return body, nil
}

func preview(b []byte) string {
	if len(b) > previewLen {
		b = b[:previewLen]
	}
	return string(b)
}

// ErrBodyTooLarge is wrapped in the TransportError for oversized answers.
var ErrBodyTooLarge = errors.New("response body too large")

func transportKind(err error) string {
	if IsTimeout(err) {
		return "timeout"
	}
	return "transport"
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	var te *model.TransportError
	if !errors.As(err, &te) {
		return false
	}
	if errors.Is(te.Err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(te.Err, &ne) && ne.Timeout()
}

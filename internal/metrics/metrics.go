package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the gateway. A nil *Metrics is
// valid and records nothing, so components can be built without metrics.
type Metrics struct {
	// Cached fetch path
	CacheRequests *prometheus.CounterVec // labels: resource, result=hit|miss|error

	// Provider client
	ProviderDur    *prometheus.HistogramVec // labels: endpoint
	ProviderErrors *prometheus.CounterVec   // labels: kind=transport|timeout|status

	// Streaming sessions
	SessionsActive prometheus.Gauge
	StreamPushes   prometheus.Counter
	StreamErrors   prometheus.Counter
	Reconfigures   prometheus.Counter

	// Redis cache circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics builds and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinfeed_cache_requests_total",
			Help: "Cached fetches by resource and outcome",
		}, []string{"resource", "result"}),

		ProviderDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coinfeed_provider_request_duration_seconds",
			Help:    "Market-data provider request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinfeed_provider_errors_total",
			Help: "Provider failures by kind (transport, timeout, status)",
		}, []string{"kind"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinfeed_stream_sessions_active",
			Help: "Streaming chart sessions currently connected",
		}),
		StreamPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinfeed_stream_pushes_total",
			Help: "Series frames pushed to streaming clients",
		}),
		StreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinfeed_stream_errors_total",
			Help: "Delivery loops terminated by an error",
		}),
		Reconfigures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinfeed_stream_reconfigures_total",
			Help: "Accepted mid-stream interval/kind changes",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinfeed_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinfeed_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.CacheRequests,
		m.ProviderDur,
		m.ProviderErrors,
		m.SessionsActive,
		m.StreamPushes,
		m.StreamErrors,
		m.Reconfigures,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)
	return m
}

// Handler exposes the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheResult(resource, result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(resource, result).Inc()
}

func (m *Metrics) ObserveProvider(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderDur.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) ProviderError(kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) Pushed() {
	if m == nil {
		return
	}
	m.StreamPushes.Inc()
}

func (m *Metrics) StreamFailed() {
	if m == nil {
		return
	}
	m.StreamErrors.Inc()
}

func (m *Metrics) Reconfigured() {
	if m == nil {
		return
	}
	m.Reconfigures.Inc()
}

// BreakerState records a circuit breaker transition; trips count entries into open.
func (m *Metrics) BreakerState(state int, tripped bool) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus tracks dependency liveness for /health.
type HealthStatus struct {
	mu sync.RWMutex

	CacheBackend string    `json:"cache_backend"`
	CacheOK      bool      `json:"cache_ok"`
	DBOK         bool      `json:"db_ok"`
	CacheMs      float64   `json:"cache_latency_ms"`
	DBMs         float64   `json:"db_latency_ms"`
	LastCheckAt  time.Time `json:"last_check_at"`
	StartedAt    time.Time `json:"started_at"`

	cache    Pinger
	db       Pinger
	sessions func() int
}

// NewHealthStatus returns a health tracker over the given dependencies.
// Either pinger may be nil, in which case it is reported healthy.
func NewHealthStatus(backend string, cache, db Pinger, sessions func() int) *HealthStatus {
	return &HealthStatus{
		CacheBackend: backend,
		CacheOK:      true,
		DBOK:         true,
		StartedAt:    time.Now(),
		cache:        cache,
		db:           db,
		sessions:     sessions,
	}
}

// Check pings every dependency once and records latency + connectivity.
func (h *HealthStatus) Check(ctx context.Context) {
	cacheOK, cacheMs := probe(ctx, h.cache)
	dbOK, dbMs := probe(ctx, h.db)

	h.mu.Lock()
	h.CacheOK, h.CacheMs = cacheOK, cacheMs
	h.DBOK, h.DBMs = dbOK, dbMs
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

func probe(ctx context.Context, p Pinger) (bool, float64) {
	if p == nil {
		return true, 0
	}
	start := time.Now()
	err := p.Ping(ctx)
	return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /health endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "ok"
	httpCode := http.StatusOK
	if !h.CacheOK || !h.DBOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions()
	}

	status := struct {
		Status       string  `json:"status"`
		Uptime       string  `json:"uptime"`
		CacheBackend string  `json:"cache_backend"`
		CacheOK      bool    `json:"cache_ok"`
		CacheMs      float64 `json:"cache_latency_ms"`
		DBOK         bool    `json:"db_ok"`
		DBMs         float64 `json:"db_latency_ms"`
		Sessions     int     `json:"ws_sessions"`
		LastCheckAt  string  `json:"last_check_at"`
	}{
		Status:       overallStatus,
		Uptime:       time.Since(h.StartedAt).Round(time.Second).String(),
		CacheBackend: h.CacheBackend,
		CacheOK:      h.CacheOK,
		CacheMs:      h.CacheMs,
		DBOK:         h.DBOK,
		DBMs:         h.DBMs,
		Sessions:     sessions,
		LastCheckAt:  h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Package metrics exposes Prometheus metrics and the /healthz probe.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the monitor.
type Metrics struct {
	Registry *prometheus.Registry

	// Feed
	TicksTotal     prometheus.Counter
	MalformedTicks prometheus.Counter
	DroppedTicks   prometheus.Counter
	FeedReconnects prometheus.Counter
	LastPrice      prometheus.Gauge

	// Aggregator
	CandlesTotal *prometheus.CounterVec // labels: tf
	StaleTicks   *prometheus.CounterVec // labels: tf
	Evicted      *prometheus.CounterVec // labels: tf

	// Evaluator
	EvalDuration    prometheus.Histogram
	IndicatorsReady prometheus.Gauge

	// Alerts and delivery
	AlertsFired  *prometheus.CounterVec // labels: kind
	NotifyErrors prometheus.Counter

	// Redis publisher
	RedisCircuitState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisPublishDur   prometheus.Histogram

	// Dashboard
	WSClients prometheus.Gauge
	WSDropped prometheus.Counter
}

// NewMetrics creates all metrics on a dedicated registry (plus Go and
// process collectors).
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcalerts_ticks_total",
			Help: "Total valid ticks received from the trade feed",
		}),
		MalformedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcalerts_malformed_ticks_total",
			Help: "Feed messages rejected before reaching the aggregator",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcalerts_dropped_ticks_total",
			Help: "Ticks dropped because the tick channel was full",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcalerts_feed_reconnects_total",
			Help: "Total trade feed reconnection attempts",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "btcalerts_last_price",
			Help: "Most recent trade price",
		}),

		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btcalerts_candles_total",
			Help: "Candles opened (by timeframe)",
		}, []string{"tf"}),
		StaleTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btcalerts_stale_ticks_total",
			Help: "Out-of-order ticks dropped beyond the stale tolerance (by timeframe)",
		}, []string{"tf"}),
		Evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btcalerts_candles_evicted_total",
			Help: "Oldest candles dropped once a timeframe reached capacity",
		}, []string{"tf"}),

		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "btcalerts_eval_duration_seconds",
			Help:    "Duration of one evaluation cycle",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		IndicatorsReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "btcalerts_indicator_timeframes_ready",
			Help: "Timeframes with enough candles for indicators",
		}),

		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btcalerts_alerts_fired_total",
			Help: "Alerts fired (by kind)",
		}, []string{"kind"}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcalerts_notify_errors_total",
			Help: "Notification delivery failures",
		}),

		RedisCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "btcalerts_redis_circuit_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "btcalerts_redis_publish_duration_seconds",
			Help:    "Redis publish pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "btcalerts_ws_clients",
			Help: "Connected dashboard WebSocket clients",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcalerts_ws_dropped_total",
			Help: "Envelopes skipped for WebSocket clients with a full send buffer",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TicksTotal,
		m.MalformedTicks,
		m.DroppedTicks,
		m.FeedReconnects,
		m.LastPrice,
		m.CandlesTotal,
		m.StaleTicks,
		m.Evicted,
		m.EvalDuration,
		m.IndicatorsReady,
		m.AlertsFired,
		m.NotifyErrors,
		m.RedisCircuitState,
		m.RedisPublishDur,
		m.WSClients,
		m.WSDropped,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected   bool      `json:"feed_connected"`
	LastTickTime    time.Time `json:"last_tick_time"`
	RedisEnabled    bool      `json:"redis_enabled"`
	RedisConnected  bool      `json:"redis_connected"`
	JournalEnabled  bool      `json:"journal_enabled"`
	JournalOK       bool      `json:"journal_ok"`
	IndicatorsReady int       `json:"indicators_ready"`
	EnabledTFs      []string  `json:"enabled_tfs"`

	// Liveness probe results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetJournalOK(v bool) {
	h.mu.Lock()
	h.JournalEnabled = true
	h.JournalOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetIndicatorsReady(n int) {
	h.mu.Lock()
	h.IndicatorsReady = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []string) {
	h.mu.Lock()
	h.EnabledTFs = tfs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal pings the SQLite alert journal and records latency + health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalEnabled = true
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckJournal(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// Status summarises health: "healthy", "degraded" (feed down or an enabled
// store failing) or "starting" (no tick seen yet).
func (h *HealthStatus) Status() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthStatus) statusLocked() string {
	switch {
	case !h.FeedConnected && h.LastTickTime.IsZero():
		return "starting"
	case !h.FeedConnected,
		h.RedisEnabled && !h.RedisConnected,
		h.JournalEnabled && !h.JournalOK:
		return "degraded"
	}
	return "healthy"
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := h.statusLocked()
	httpCode := http.StatusOK
	if overallStatus != "healthy" {
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string   `json:"status"`
		Uptime           string   `json:"uptime"`
		FeedConnected    bool     `json:"feed_connected"`
		LastTickTime     string   `json:"last_tick_time"`
		TickAge          string   `json:"tick_age"`
		RedisEnabled     bool     `json:"redis_enabled"`
		RedisConnected   bool     `json:"redis_connected"`
		RedisLatencyMs   float64  `json:"redis_latency_ms"`
		JournalEnabled   bool     `json:"journal_enabled"`
		JournalOK        bool     `json:"journal_ok"`
		JournalLatencyMs float64  `json:"journal_latency_ms"`
		IndicatorsReady  int      `json:"indicators_ready"`
		EnabledTFs       []string `json:"enabled_tfs"`
		LastCheckAt      string   `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:    h.FeedConnected,
		LastTickTime:     h.LastTickTime.Format(time.RFC3339),
		TickAge:          tickAge,
		RedisEnabled:     h.RedisEnabled,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalEnabled:   h.JournalEnabled,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		IndicatorsReady:  h.IndicatorsReady,
		EnabledTFs:       h.EnabledTFs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: slog.With("component", "metrics"),
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

const namespace = "gridlock"

// Metrics tracks in-memory counters for the detector and mirrors them into
// Prometheus collectors on a private registry.
type Metrics struct {
	mu sync.RWMutex

	TotalTicks      int64 `json:"total_ticks"`
	WaitingTicks    int64 `json:"waiting_ticks"`
	AnomalousTicks  int64 `json:"anomalous_ticks"`
	EpisodesOpened  int64 `json:"episodes_opened"`
	EpisodesAdapted int64 `json:"episodes_adapted"`
	TheftsConfirmed int64 `json:"thefts_confirmed"`
	NotifyFailures  int64 `json:"notify_failures"`

	// Sliding window of scored ticks for the anomalous-tick rate
	window []windowEntry
	now    func() time.Time

	registry      *prometheus.Registry
	ticks         *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	score         prometheus.Gauge
	threshold     prometheus.Gauge
	windowRate    prometheus.Gauge
	notifications *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

type windowEntry struct {
	ts        time.Time
	anomalous bool
}

const windowDuration = 5 * time.Minute

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	TotalTicks      int64   `json:"total_ticks"`
	WaitingTicks    int64   `json:"waiting_ticks"`
	AnomalousTicks  int64   `json:"anomalous_ticks"`
	EpisodesOpened  int64   `json:"episodes_opened"`
	EpisodesAdapted int64   `json:"episodes_adapted"`
	TheftsConfirmed int64   `json:"thefts_confirmed"`
	NotifyFailures  int64   `json:"notify_failures"`
	WindowTicks     int     `json:"window_ticks_5m"`
	WindowAnomalous int     `json:"window_anomalous_5m"`
	WindowRate      float64 `json:"window_anomalous_rate_5m"`
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		now:      time.Now,
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Evaluated ticks by resulting status.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Lifecycle state transitions.",
		}, []string{"from", "to"}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_score",
			Help:      "Anomaly score of the last scored tick.",
		}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold",
			Help:      "Decision threshold in force at the last scored tick.",
		}),
		windowRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomalous_tick_rate_5m",
			Help:      "Percentage of scored ticks above threshold over the last 5 minutes.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by sink and outcome.",
		}, []string{"sink", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks,
		m.transitions,
		m.score,
		m.threshold,
		m.windowRate,
		m.notifications,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records one controller tick.
func (m *Metrics) ObserveTick(status domain.Status, score, threshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalTicks++
	m.ticks.WithLabelValues(string(status)).Inc()
	if status == domain.StatusWaiting {
		m.WaitingTicks++
		return
	}
	anomalous := score > threshold
	if anomalous {
		m.AnomalousTicks++
	}
	m.score.Set(score)
	m.threshold.Set(threshold)
	m.addWindow(anomalous)
	m.windowRate.Set(m.rateLocked(m.now()))
}

// ObserveTransition records a lifecycle state change.
func (m *Metrics) ObserveTransition(from, to domain.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
	switch to {
	case domain.StateAnomalyActive:
		m.EpisodesOpened++
	case domain.StateResolvedAdapted:
		m.EpisodesAdapted++
	case domain.StateResolvedTheft:
		m.TheftsConfirmed++
	}
}

// RecordNotification records the outcome of one outbound send.
func (m *Metrics) RecordNotification(sink string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
		m.mu.Lock()
		m.NotifyFailures++
		m.mu.Unlock()
	}
	m.notifications.WithLabelValues(sink, outcome).Inc()
}

// RecordHTTP records a served request.
func (m *Metrics) RecordHTTP(route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func (m *Metrics) addWindow(anomalous bool) {
	now := m.now()
	m.window = append(m.window, windowEntry{ts: now, anomalous: anomalous})
	m.pruneWindow(now)
}

func (m *Metrics) pruneWindow(now time.Time) {
	cutoff := now.Add(-windowDuration)
	i := 0
	for i < len(m.window) && m.window[i].ts.Before(cutoff) {
		i++
	}
	m.window = m.window[i:]
}

func (m *Metrics) windowCounts(now time.Time) (ticks, anomalous int) {
	cutoff := now.Add(-windowDuration)
	for _, e := range m.window {
		if e.ts.After(cutoff) {
			ticks++
			if e.anomalous {
				anomalous++
			}
		}
	}
	return ticks, anomalous
}

func (m *Metrics) rateLocked(now time.Time) float64 {
	ticks, anomalous := m.windowCounts(now)
	if ticks == 0 {
		return 0
	}
	return float64(anomalous) / float64(ticks) * 100
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	ticks, anomalous := m.windowCounts(now)
	return MetricsSnapshot{
		TotalTicks:      m.TotalTicks,
		WaitingTicks:    m.WaitingTicks,
		AnomalousTicks:  m.AnomalousTicks,
		EpisodesOpened:  m.EpisodesOpened,
		EpisodesAdapted: m.EpisodesAdapted,
		TheftsConfirmed: m.TheftsConfirmed,
		NotifyFailures:  m.NotifyFailures,
		WindowTicks:     ticks,
		WindowAnomalous: anomalous,
		WindowRate:      m.rateLocked(now),
	}
}

// Package metrics provides Prometheus metrics collection for apikit.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apikit"

// Collector holds all Prometheus metrics for apikit.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Session metrics
	SessionRequests *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	SessionInFlight prometheus.Gauge
	SessionErrors   *prometheus.CounterVec
	SessionRetries  *prometheus.CounterVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Binding metrics
	GatewaysBuilt *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered with the default registry.
func New() *Collector {
	return newCollector(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return newCollector(promauto.With(reg))
}

func newCollector(factory promauto.Factory) *Collector {
	return &Collector{
		SessionRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_requests_total",
				Help:      "Total number of HTTP round trips performed by sessions",
			},
			[]string{"session", "method", "status"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_request_duration_seconds",
				Help:      "Session round trip duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"session", "method"},
		),
		SessionInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_requests_in_flight",
				Help:      "Number of requests currently in flight",
			},
		),
		SessionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_errors_total",
				Help:      "Total number of failed session requests",
			},
			[]string{"session", "type"},
		),
		SessionRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_retries_total",
				Help:      "Total number of retried round trips",
			},
			[]string{"session"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result",
			},
			[]string{"session", "result"},
		),
		GatewaysBuilt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateways_built_total",
				Help:      "Gateways constructed by binders",
			},
			[]string{"spec", "result"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveRequest records one completed round trip.
func (c *Collector) ObserveRequest(session, method string, status int, seconds float64) {
	if c == nil {
		return
	}
	c.SessionRequests.WithLabelValues(session, method, StatusClass(status)).Inc()
	c.SessionDuration.WithLabelValues(session, method).Observe(seconds)
}

// ObserveError records a failed round trip by error type.
func (c *Collector) ObserveError(session, kind string) {
	if c == nil {
		return
	}
	c.SessionErrors.WithLabelValues(session, kind).Inc()
}

// ObserveRetry records one retry.
func (c *Collector) ObserveRetry(session string) {
	if c == nil {
		return
	}
	c.SessionRetries.WithLabelValues(session).Inc()
}

// InFlight adjusts the in-flight gauge by delta.
func (c *Collector) InFlight(delta float64) {
	if c == nil {
		return
	}
	c.SessionInFlight.Add(delta)
}

// ObserveCache records a cache lookup result (hit, miss, stale).
func (c *Collector) ObserveCache(session, result string) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues(session, result).Inc()
}

// ObserveBuild records a gateway construction attempt.
func (c *Collector) ObserveBuild(spec string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.GatewaysBuilt.WithLabelValues(spec, result).Inc()
}

// ObserveReload records a config reload outcome at the given unix time.
func (c *Collector) ObserveReload(err error, unix float64) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(unix)
}

// StatusClass reduces a status code to its class ("2xx", "4xx").
// Zero means no response was received.
func StatusClass(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

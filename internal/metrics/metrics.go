package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corekit"

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
)

// Collector holds the engine's prometheus instruments. A nil *Collector is
// valid and records nothing.
type Collector struct {
	resolutions   *prometheus.CounterVec
	registrations *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	skipped       *prometheus.CounterVec
	engineState   prometheus.Gauge
	activeScopes  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a collector registered against a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c, _ := NewWithRegisterer(reg)
	c.registry = reg
	return c
}

// NewWithRegisterer creates a collector registered against r.
func NewWithRegisterer(r prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "di",
				Name:      "resolutions_total",
				Help:      "Total number of service resolutions",
			},
			[]string{"lifetime", "outcome"},
		),
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "di",
				Name:      "registrations_total",
				Help:      "Total number of service registrations by action",
			},
			[]string{"action"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "startup",
				Name:      "task_duration_seconds",
				Help:      "Duration of startup task execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task", "outcome"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "skipped_total",
				Help:      "Total number of discovery candidates skipped",
			},
			[]string{"module"},
		),
		engineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "Current engine state (0=uninitialized, 1=initialized, 2=started, 3=stopped)",
		}),
		activeScopes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "di",
			Name:      "active_scopes",
			Help:      "Number of scopes created and not yet disposed",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.resolutions, c.registrations, c.taskDuration, c.skipped, c.engineState, c.activeScopes,
	} {
		if err := r.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Collector) ObserveResolution(lifetime, outcome string) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(lifetime, outcome).Inc()
}

func (c *Collector) ObserveRegistration(action string) {
	if c == nil {
		return
	}
	c.registrations.WithLabelValues(action).Inc()
}

func (c *Collector) ObserveTask(task, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.taskDuration.WithLabelValues(task, outcome).Observe(d.Seconds())
}

func (c *Collector) ObserveSkipped(module string) {
	if c == nil {
		return
	}
	c.skipped.WithLabelValues(module).Inc()
}

func (c *Collector) SetEngineState(state int) {
	if c == nil {
		return
	}
	c.engineState.Set(float64(state))
}

func (c *Collector) ScopeOpened() {
	if c == nil {
		return
	}
	c.activeScopes.Inc()
}

func (c *Collector) ScopeClosed() {
	if c == nil {
		return
	}
	c.activeScopes.Dec()
}

// Gatherer returns the registry backing this collector when it owns one.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil || c.registry == nil {
		return prometheus.DefaultGatherer
	}
	return c.registry
}

// Handler exposes the collector's metrics in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// Package dispatchprom exports dispatcher and factory signals as Prometheus metrics.
package dispatchprom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skosovsky/toolscope"
)

// Observer implements toolscope.Observer on top of Prometheus collectors.
type Observer struct {
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	created      prometheus.Counter
	createFailed prometheus.Counter
	active       prometheus.Gauge
	lifetime     prometheus.Histogram
}

// Option configures an Observer.
type Option func(*options)

type options struct {
	namespace string
	buckets   []float64
}

// WithNamespace prefixes every metric name (default "toolscope").
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithBuckets sets the histogram buckets for tool durations in seconds.
func WithBuckets(b ...float64) Option {
	return func(o *options) {
		o.buckets = b
	}
}

// New creates an Observer and registers its collectors with reg. Use a dedicated registry
// (prometheus.NewRegistry) in tests; registering twice with the same registerer fails.
func New(reg prometheus.Registerer, opts ...Option) (*Observer, error) {
	o := options{namespace: "toolscope", buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	obs := &Observer{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of dispatched tool calls",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   o.buckets,
		}, []string{"tool"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "dispatchers_created_total",
			Help:      "Total number of dispatchers created",
		}),
		createFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "dispatcher_create_failures_total",
			Help:      "Total number of failed dispatcher creations",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: o.namespace,
			Name:      "dispatchers_active",
			Help:      "Number of dispatchers not yet cleaned up",
		}),
		lifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "dispatcher_lifetime_seconds",
			Help:      "Time between dispatcher creation and cleanup",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
	}
	for _, c := range []prometheus.Collector{
		obs.toolCalls, obs.toolDuration, obs.created, obs.createFailed, obs.active, obs.lifetime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return obs, nil
}

func (o *Observer) DispatcherCreated() {
	o.created.Inc()
	o.active.Inc()
}

func (o *Observer) DispatcherCreateFailed() {
	o.createFailed.Inc()
}

// DispatcherReleased is called once per dispatcher, on its first Cleanup.
func (o *Observer) DispatcherReleased(lifetime time.Duration) {
	o.active.Dec()
	o.lifetime.Observe(lifetime.Seconds())
}

func (o *Observer) ToolDispatched(tool string, status toolscope.Status, dur time.Duration) {
	o.toolCalls.WithLabelValues(tool, string(status)).Inc()
	o.toolDuration.WithLabelValues(tool).Observe(dur.Seconds())
}

var _ toolscope.Observer = (*Observer)(nil)

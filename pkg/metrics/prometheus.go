// Package metrics exports component state metrics to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/txn2/component-state/pkg/componentstate"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "component_state"

// Duration histogram buckets in milliseconds.
var defaultBuckets = []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000}

// Source is what the exporter reads totals from.
type Source interface {
	Metrics() componentstate.Metrics
	ActiveCount() int
}

// Config configures an Exporter.
type Config struct {
	Namespace string
	Buckets   []float64

	// Registry receives all collectors. A new registry with Go and
	// process collectors is created when nil.
	Registry *prometheus.Registry
}

// Exporter publishes manager totals and observer events as Prometheus
// metrics. It implements componentstate.Observer.
type Exporter struct {
	registry *prometheus.Registry

	interactions *prometheus.CounterVec
	errors       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	namespace    string
}

// New creates an Exporter and registers its event collectors.
func New(cfg Config) *Exporter {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = defaultBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	e := &Exporter{
		registry:  registry,
		namespace: cfg.Namespace,

		interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "interactions_observed_total",
				Help:      "Component lifecycle events by kind",
			},
			[]string{"kind"},
		),

		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "operation_errors_total",
				Help:      "Failed component operations by operation",
			},
			[]string{"operation"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "operation_duration_milliseconds",
				Help:      "Duration of component operations in milliseconds",
				Buckets:   cfg.Buckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(e.interactions, e.errors, e.duration)
	return e
}

// Register exposes the totals of src. It fails if called twice for the
// same registry.
func (e *Exporter) Register(src Source) error {
	created := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: e.namespace,
			Name:      "components_created_total",
			Help:      "Total components created since start",
		},
		func() float64 { return float64(src.Metrics().TotalComponentsCreated) },
	)
	interactions := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: e.namespace,
			Name:      "interactions_total",
			Help:      "Total successful component updates since start",
		},
		func() float64 { return float64(src.Metrics().TotalInteractions) },
	)
	active := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: e.namespace,
			Name:      "active_components",
			Help:      "Components currently held in memory",
		},
		func() float64 { return float64(src.ActiveCount()) },
	)

	for name, c := range map[string]prometheus.Collector{
		"components_created_total": created,
		"interactions_total":       interactions,
		"active_components":        active,
	} {
		if err := e.registry.Register(c); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the scrape handler for the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// LogComponentInteraction counts the event by kind.
func (e *Exporter) LogComponentInteraction(_ context.Context, in componentstate.Interaction) error {
	e.interactions.WithLabelValues(string(in.Kind)).Inc()
	return nil
}

// LogError counts the failure by operation.
func (e *Exporter) LogError(_ context.Context, op componentstate.Operation, _ error, _ string) error {
	e.errors.WithLabelValues(string(op)).Inc()
	return nil
}

// LogPerformance records the operation duration.
func (e *Exporter) LogPerformance(_ context.Context, op componentstate.Operation, d time.Duration, _ string) error {
	e.duration.WithLabelValues(string(op)).Observe(float64(d.Microseconds()) / 1000)
	return nil
}

// Verify interface compliance.
var _ componentstate.Observer = (*Exporter)(nil)

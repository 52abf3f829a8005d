// Package metrics exposes orchestration counters through Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass kinds.
const (
	PassDispatch   = "dispatch"
	PassCompletion = "completion"
)

// Collector holds the orchestrator metrics. A nil *Collector drops every observation.
type Collector struct {
	registry *prometheus.Registry

	dispatched   *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	unlocked     prometheus.Counter
	closed       prometheus.Counter
	completions  *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
}

// NewCollector creates a collector on its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		dispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_tasks_dispatched_total",
				Help: "Total number of tasks assigned to a worker",
			},
			[]string{"worker"},
		),
		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_dispatch_skipped_total",
				Help: "Ready tasks left unassigned during a dispatch pass",
			},
			[]string{"reason"},
		),
		unlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trellis_tasks_unlocked_total",
				Help: "Total number of tasks moved to ready after their dependencies completed",
			},
		),
		closed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trellis_tasks_closed_total",
				Help: "Total number of tasks closed by a merged change",
			},
		),
		completions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_completions_total",
				Help: "Completion signals handled by outcome",
			},
			[]string{"outcome"},
		),
		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trellis_pass_duration_seconds",
				Help:    "Orchestration pass duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// IncDispatched counts a dispatched task.
func (c *Collector) IncDispatched(worker string) {
	if c == nil {
		return
	}
	c.dispatched.WithLabelValues(worker).Inc()
}

// IncSkipped counts a ready task skipped for reason.
func (c *Collector) IncSkipped(reason string) {
	if c == nil {
		return
	}
	c.skipped.WithLabelValues(reason).Inc()
}

// IncUnlocked counts a task moved to ready.
func (c *Collector) IncUnlocked() {
	if c == nil {
		return
	}
	c.unlocked.Inc()
}

// IncClosed counts a task closed after merge.
func (c *Collector) IncClosed() {
	if c == nil {
		return
	}
	c.closed.Inc()
}

// IncCompletion counts a completion signal outcome.
func (c *Collector) IncCompletion(outcome string) {
	if c == nil {
		return
	}
	c.completions.WithLabelValues(outcome).Inc()
}

// ObservePass records the duration of a pass that started at start.
func (c *Collector) ObservePass(kind string, start time.Time) {
	if c == nil {
		return
	}
	c.passDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes all metrics in the node-exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

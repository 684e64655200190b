// Package metrics exposes engine activity as Prometheus collectors. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names used as the "operation" label.
const (
	OpPull       = "pull"
	OpNextPage   = "next_page"
	OpCommit     = "commit"
	OpIntrospect = "introspect"
)

// Collector holds the engine's Prometheus metrics.
type Collector struct {
	operations        *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	active            *prometheus.GaugeVec
	rows              *prometheus.CounterVec
	batchSize         prometheus.Histogram
	commitPasses      prometheus.Histogram
	statementFailures prometheus.Counter
}

// New creates a collector whose metric names start with namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "cistern"
	}
	return &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of engine operations",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of engine operations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Number of engine operations in flight",
			},
			[]string{"operation"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Rows read by providers and affected by commits",
			},
			[]string{"direction"},
		),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_batch_size",
			Help:      "Statements per commit",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
		}),
		commitPasses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_passes",
			Help:      "Execution passes needed per commit",
			Buckets:   []float64{1, 2, 3, 5, 10, 20},
		}),
		statementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statement_failures_total",
			Help:      "Statements that failed during a commit pass",
		}),
	}
}

// Register adds every collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{
		c.operations, c.duration, c.active, c.rows,
		c.batchSize, c.commitPasses, c.statementFailures,
	} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Start marks op as in flight. The returned func records its outcome.
func (c *Collector) Start(op string) func(err error) {
	if c == nil {
		return func(error) {}
	}
	start := time.Now()
	c.active.WithLabelValues(op).Inc()
	return func(err error) {
		c.active.WithLabelValues(op).Dec()
		status := "success"
		if err != nil {
			status = "error"
		}
		c.operations.WithLabelValues(op, status).Inc()
		c.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// RowsRead counts rows handed out by a provider.
func (c *Collector) RowsRead(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.rows.WithLabelValues("read").Add(float64(n))
}

// RowsAffected counts rows changed by a committed transaction.
func (c *Collector) RowsAffected(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.rows.WithLabelValues("written").Add(float64(n))
}

// CommitShape records the size of a batch and the passes it took.
func (c *Collector) CommitShape(statements, passes int) {
	if c == nil {
		return
	}
	c.batchSize.Observe(float64(statements))
	c.commitPasses.Observe(float64(passes))
}

// StatementFailed counts one failed statement execution.
func (c *Collector) StatementFailed() {
	if c == nil {
		return
	}
	c.statementFailures.Inc()
}

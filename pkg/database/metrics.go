package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsCollector exports pgxpool statistics as prometheus metrics.
type PoolStatsCollector struct {
	pool    *pgxpool.Pool
	service string

	totalConns    *prometheus.Desc
	idleConns     *prometheus.Desc
	acquiredConns *prometheus.Desc
	maxConns      *prometheus.Desc
	acquireCount  *prometheus.Desc
	emptyAcquire  *prometheus.Desc
}

// NewPoolStatsCollector creates a collector for the given pool.
func NewPoolStatsCollector(pool *pgxpool.Pool, service string) *PoolStatsCollector {
	labels := prometheus.Labels{"service": service}
	return &PoolStatsCollector{
		pool:    pool,
		service: service,
		totalConns: prometheus.NewDesc(
			"portal_pgx_pool_total_conns",
			"Total number of connections in the pool.",
			nil, labels,
		),
		idleConns: prometheus.NewDesc(
			"portal_pgx_pool_idle_conns",
			"Number of idle connections in the pool.",
			nil, labels,
		),
		acquiredConns: prometheus.NewDesc(
			"portal_pgx_pool_acquired_conns",
			"Number of currently acquired connections.",
			nil, labels,
		),
		maxConns: prometheus.NewDesc(
			"portal_pgx_pool_max_conns",
			"Maximum size of the pool.",
			nil, labels,
		),
		acquireCount: prometheus.NewDesc(
			"portal_pgx_pool_acquire_total",
			"Cumulative count of successful acquires.",
			nil, labels,
		),
		emptyAcquire: prometheus.NewDesc(
			"portal_pgx_pool_empty_acquire_total",
			"Cumulative count of acquires that waited for a connection.",
			nil, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.acquiredConns
	ch <- c.maxConns
	ch <- c.acquireCount
	ch <- c.emptyAcquire
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stats.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stats.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stats.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stats.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stats.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(stats.EmptyAcquireCount()))
}

// RegisterPoolMetrics registers the pool collector with the default
// prometheus registry. Registration failures (e.g. duplicate registration
// in tests) are ignored.
func RegisterPoolMetrics(pool *pgxpool.Pool, service string) {
	_ = prometheus.Register(NewPoolStatsCollector(pool, service))
}

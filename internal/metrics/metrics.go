// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes the core's operational counters as
// Prometheus collectors: pool saturation, writer queueing, broadcast
// overflow, and migration outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Manager owns the registry and the custom collectors registered
// against it. It mirrors the shape of a typical application metrics
// manager: one constructor that wires every collector into one
// registry, handed to the HTTP exposition handler.
type Manager struct {
	Registry *prometheus.Registry

	writerWaitSeconds prometheus.Histogram
	readerAcquired    prometheus.Counter
	readerTimeouts    prometheus.Counter
	broadcastDropped  *prometheus.CounterVec
	migrationEvents   *prometheus.CounterVec
}

func NewManager() *Manager {
	m := &Manager{
		Registry: prometheus.NewRegistry(),
		writerWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dbcore",
			Subsystem: "writer",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire the writer connection.",
			Buckets:   prometheus.DefBuckets,
		}),
		readerAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbcore",
			Subsystem: "reader_pool",
			Name:      "acquired_total",
			Help:      "Total reader connections handed out.",
		}),
		readerTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbcore",
			Subsystem: "reader_pool",
			Name:      "acquire_timeouts_total",
			Help:      "Total reader acquisitions that failed via context cancellation.",
		}),
		broadcastDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbcore",
			Subsystem: "change_observer",
			Name:      "broadcast_dropped_total",
			Help:      "Total publications dropped for a slow subscriber.",
		}, []string{"db"}),
		migrationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbcore",
			Subsystem: "migrate",
			Name:      "events_total",
			Help:      "Total migration events emitted, by status.",
		}, []string{"db", "status"}),
	}

	m.Registry.MustRegister(
		m.writerWaitSeconds,
		m.readerAcquired,
		m.readerTimeouts,
		m.broadcastDropped,
		m.migrationEvents,
	)

	return m
}

func (m *Manager) ObserveWriterWait(seconds float64) { m.writerWaitSeconds.Observe(seconds) }
func (m *Manager) IncReaderAcquired()                { m.readerAcquired.Inc() }
func (m *Manager) IncReaderTimeout()                 { m.readerTimeouts.Inc() }
func (m *Manager) IncBroadcastDropped(db string)     { m.broadcastDropped.WithLabelValues(db).Inc() }
func (m *Manager) IncMigrationEvent(db, status string) {
	m.migrationEvents.WithLabelValues(db, status).Inc()
}

// PoolGaugeCollector is a minimal custom collector for a live gauge
// value that doesn't fit prometheus.Gauge's set-from-outside model
// cleanly — here, the number of reader connections a pool has lazily
// created so far, read on demand from the pool itself rather than
// mirrored into a second counter that could drift from the source of
// truth.
type PoolGaugeCollector struct {
	desc  *prometheus.Desc
	value func() int64
}

func NewPoolGaugeCollector(db string, value func() int64) *PoolGaugeCollector {
	return &PoolGaugeCollector{
		desc: prometheus.NewDesc(
			"dbcore_reader_pool_connections_created",
			"Reader connections lazily created so far for this database.",
			nil, prometheus.Labels{"db": db},
		),
		value: value,
	}
}

func (c *PoolGaugeCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *PoolGaugeCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(c.value()))
}

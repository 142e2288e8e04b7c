// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamserve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "streamserve"

// Metrics holds the Prometheus instruments a server updates. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	acceptedTotal  prometheus.Counter
	activeSessions prometheus.Gauge
	readBytes      prometheus.Counter
	writtenBytes   prometheus.Counter
	sessionErrors  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		acceptedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "accepted_total",
			Help:      "Total number of accepted connections",
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of live sessions",
		}),

		readBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "read_bytes_total",
			Help:      "Total bytes read from peers",
		}),

		writtenBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "written_bytes_total",
			Help:      "Total bytes written to peers",
		}),

		sessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_errors_total",
			Help:      "Total sessions failed, by error kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.acceptedTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) addRead(n int) {
	if m == nil {
		return
	}
	m.readBytes.Add(float64(n))
}

func (m *Metrics) addWritten(n int) {
	if m == nil {
		return
	}
	m.writtenBytes.Add(float64(n))
}

func (m *Metrics) sessionError(kind string) {
	if m == nil {
		return
	}
	m.sessionErrors.WithLabelValues(kind).Inc()
}

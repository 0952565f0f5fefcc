// Copyright (c) the qldbdriver-go contributors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics provides an optional Prometheus-backed view into the
// driver's pool and retry behavior. Wiring it is opt-in (see
// qldbdriver.WithMetrics): without a Recorder the driver uses Nop and
// records nothing. The package imports prometheus/client_golang, so
// that module is a build dependency of the driver either way.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the metrics sink the driver writes to. Nop is the
// zero-cost default.
type Recorder interface {
	SessionsInUse(n int)
	SessionsIdle(n int)
	RetryAttempted(kind string)
	DigestMismatch()
	TransactionCommitted()
	TransactionAborted()
}

type nopRecorder struct{}

func (nopRecorder) SessionsInUse(int)         {}
func (nopRecorder) SessionsIdle(int)          {}
func (nopRecorder) RetryAttempted(string)     {}
func (nopRecorder) DigestMismatch()           {}
func (nopRecorder) TransactionCommitted()     {}
func (nopRecorder) TransactionAborted()       {}

// Nop is a Recorder that discards everything.
var Nop Recorder = nopRecorder{}

// PrometheusRecorder records driver activity onto a set of collectors
// registered against the given Registerer.
type PrometheusRecorder struct {
	sessionsInUse prometheus.Gauge
	sessionsIdle  prometheus.Gauge
	retries       *prometheus.CounterVec
	digestMismatch prometheus.Counter
	committed     prometheus.Counter
	aborted       prometheus.Counter
}

// NewPrometheusRecorder creates and registers the driver's collectors.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		sessionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qldbdriver", Name: "sessions_in_use", Help: "Sessions currently checked out of the pool.",
		}),
		sessionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qldbdriver", Name: "sessions_idle", Help: "Sessions idle in the pool.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qldbdriver", Name: "retries_total", Help: "Retries attempted by the execute-loop, by error kind.",
		}, []string{"kind"}),
		digestMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qldbdriver", Name: "digest_mismatches_total", Help: "Commits rejected for a digest mismatch.",
		}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qldbdriver", Name: "transactions_committed_total", Help: "Transactions successfully committed.",
		}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qldbdriver", Name: "transactions_aborted_total", Help: "Transactions aborted.",
		}),
	}
	reg.MustRegister(r.sessionsInUse, r.sessionsIdle, r.retries, r.digestMismatch, r.committed, r.aborted)
	return r
}

func (r *PrometheusRecorder) SessionsInUse(n int)     { r.sessionsInUse.Set(float64(n)) }
func (r *PrometheusRecorder) SessionsIdle(n int)      { r.sessionsIdle.Set(float64(n)) }
func (r *PrometheusRecorder) RetryAttempted(kind string) { r.retries.WithLabelValues(kind).Inc() }
func (r *PrometheusRecorder) DigestMismatch()         { r.digestMismatch.Inc() }
func (r *PrometheusRecorder) TransactionCommitted()   { r.committed.Inc() }
func (r *PrometheusRecorder) TransactionAborted()     { r.aborted.Inc() }

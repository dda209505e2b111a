// Copyright 2016 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package metric provides the small set of transient stats the client
// library exports about itself, backed by prometheus/client_golang.
package metric

import "github.com/prometheus/client_golang/prometheus"

// Registry is the package-wide collector registry. Callers embedding
// this client into a server with its own registry can pass that
// instead of using the default.
var Registry = prometheus.NewRegistry()

// BatcherMetrics holds the counters and gauges a Batcher updates over
// its lifetime. One instance is shared across all batchers created by
// a session/client, the way a single DistSenderMetrics is shared
// across a DistSender's batches in the teacher.
type BatcherMetrics struct {
	OutstandingLookups prometheus.Gauge
	OutstandingRPCs    prometheus.Gauge
	FlushesTotal        *prometheus.CounterVec
	FlushLatencySeconds prometheus.Histogram
	ErrorsByCode        *prometheus.CounterVec
}

// NewBatcherMetrics constructs and registers a BatcherMetrics on reg.
func NewBatcherMetrics(reg *prometheus.Registry) *BatcherMetrics {
	m := &BatcherMetrics{
		OutstandingLookups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kv", Subsystem: "batcher", Name: "outstanding_lookups",
			Help: "Number of shard lookups currently in flight across all batchers.",
		}),
		OutstandingRPCs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kv", Subsystem: "batcher", Name: "outstanding_rpcs",
			Help: "Number of dispatched RPCs awaiting a response across all batchers.",
		}),
		FlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "batcher", Name: "flushes_total",
			Help: "Completed flushes, partitioned by terminal outcome.",
		}, []string{"outcome"}),
		FlushLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kv", Subsystem: "batcher", Name: "flush_latency_seconds",
			Help:    "Latency from FlushAsync to the user callback firing.",
			Buckets: prometheus.DefBuckets,
		}),
		ErrorsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kv", Subsystem: "batcher", Name: "errors_total",
			Help: "Per-op errors collected, partitioned by client error code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.OutstandingLookups, m.OutstandingRPCs, m.FlushesTotal,
			m.FlushLatencySeconds, m.ErrorsByCode,
		)
	}
	return m
}

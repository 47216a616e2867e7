// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import "github.com/prometheus/client_golang/prometheus"

// Names used with stats.StatsClient.
const (
	// MetricImportDuration records the full time of an import run.
	MetricImportDuration = "import_duration"

	// MetricDispatchAttempt records the time of one import request to one
	// node, whatever its outcome.
	MetricDispatchAttempt = "dispatch_attempt"

	// MetricTopologyLookup records the time to resolve the nodes for a
	// shard, including retries.
	MetricTopologyLookup = "topology_lookup"

	MetricBatchesSucceeded = "batches_succeeded"
	MetricBatchesFailed    = "batches_failed"
	MetricBatchesCancelled = "batches_cancelled"
	MetricRecordsRead      = "records_read"

	// MetricBatchesInFlight is a gauge of batches being sent to nodes.
	MetricBatchesInFlight = "batches_in_flight"
	// MetricBatchRecords is the distribution of records per dispatched batch.
	MetricBatchRecords = "batch_records"
)

const metricNamespace = "fbimport"

var counterRecordsRead = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "records_read_total",
		Help:      "Records read from import sources.",
	},
)

var counterBatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "batches_total",
		Help:      "Batches which reached a terminal state, by state.",
	},
	[]string{"state"},
)

var dispatchAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "dispatch_attempts_total",
		Help:      "Import requests sent to nodes, by resulting signal.",
	},
	[]string{"signal"},
)

var counterTopologyInvalidations = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "topology_invalidations_total",
		Help:      "Shard node cache entries dropped after a stale topology signal.",
	},
)

var histogramBatchSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: metricNamespace,
		Name:      "batch_dispatch_seconds",
		Help:      "Time from topology lookup to a batch's terminal state.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	},
)

func init() {
	prometheus.MustRegister(counterRecordsRead)
	prometheus.MustRegister(counterBatches)
	prometheus.MustRegister(dispatchAttempts)
	prometheus.MustRegister(counterTopologyInvalidations)
	prometheus.MustRegister(histogramBatchSeconds)
}

// Package stats exports Prometheus counters/gauges/histograms for the
// storage, blob, search, queue, task, and push components, following the
// teacher's naming convention (`*.n` counter, `*.ns` latency, `*.size`
// bytes, `*.bps` throughput, `*.id` identifier) translated into
// Prometheus's underscore-separated metric names.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Naming convention:
//  -> "*_total" - counter
//  -> "*_seconds" - latency/duration
//  -> "*_bytes" - size
//  -> "*_bytes_per_second" - throughput
const namespace = "stwt"

var (
	BatchCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "batch", Name: "commits_total", Help: "batches committed via Builder.BuildAll",
	})
	BatchAssertionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "batch", Name: "assertion_failures_total", Help: "AssertValue preconditions that did not hold",
	})

	BlobGCDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "blob", Name: "gc_deleted_total", Help: "blob payloads reclaimed by a GC sweep",
	})
	BlobGCBytesReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "blob", Name: "gc_bytes_reclaimed_total", Help: "bytes reclaimed by a GC sweep",
	})
	BlobGCDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "blob", Name: "gc_duration_seconds", Help: "wall time of one GC sweep",
	})

	SearchTaskLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "search", Name: "task_lag_seconds", Help: "time between an UpdateIndex task's due-ts and its execution",
	})

	ChangeIDIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "changelog", Name: "change_id_issued_total", Help: "change-ids minted across all accounts",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "queue", Name: "depth", Help: "messages currently queued",
	})
	QueueDSNCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "queue", Name: "dsn_total", Help: "DSNs generated, by kind",
	}, []string{"kind"})

	TaskQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "task", Name: "queue_depth", Help: "due tasks returned by the most recent Due scan",
	})
	TaskLockContention = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "task", Name: "lock_contention_total", Help: "Acquire calls that found an unexpired lock",
	})

	PushFanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "push", Name: "fanout_duration_seconds", Help: "time to fan one Publish call to all local subscribers",
	})
	PushDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "push", Name: "dropped_total", Help: "notifications dropped after SendTimeout",
	})

	BroadcastBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "broadcast", Name: "batch_size", Help: "events per published broadcast batch",
	})
)

func init() {
	prometheus.MustRegister(
		BatchCommits, BatchAssertionFailures,
		BlobGCDeleted, BlobGCBytesReclaimed, BlobGCDuration,
		SearchTaskLag,
		ChangeIDIssued,
		QueueDepth, QueueDSNCount,
		TaskQueueDepth, TaskLockContention,
		PushFanoutLatency, PushDropped,
		BroadcastBatchSize,
	)
}

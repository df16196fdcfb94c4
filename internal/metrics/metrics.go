// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FirehoseConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nebula_firehose_connected",
		Help: "1 while the Jetstream connection is established.",
	})

	FirehoseEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nebula_firehose_events_total",
		Help: "Processed firehose events by collection and operation.",
	}, []string{"collection", "operation"})

	FirehoseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nebula_firehose_errors_total",
		Help: "Firehose messages that failed to parse or apply.",
	})

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nebula_ingest_flush_seconds",
		Help:    "Duration of ingester batch flush transactions.",
		Buckets: prometheus.DefBuckets,
	})

	FlushedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nebula_ingest_flushed_rows_total",
		Help: "Rows written per flush by kind.",
	}, []string{"kind"})

	FeedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nebula_feed_requests_total",
		Help: "Feed skeleton requests by outcome.",
	}, []string{"status"})

	FeedRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nebula_feed_request_seconds",
		Help:    "Feed skeleton request latency.",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	PipelineRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nebula_semantic_pipeline_running",
		Help: "1 while a semantic batch run is in flight.",
	})

	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nebula_semantic_pipeline_runs_total",
		Help: "Semantic pipeline runs by outcome.",
	}, []string{"status"})

	CandidatesScored = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nebula_ranking_candidates",
		Help:    "Candidate pool size entering the scoring stage.",
		Buckets: prometheus.ExponentialBuckets(16, 2, 10),
	})
)

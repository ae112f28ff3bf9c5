// Package metrics holds the Prometheus collectors shared by Heron components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreRecords tracks the number of records held by the transaction store
	StoreRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heron_store_records",
			Help: "Number of transaction records in the store",
		},
	)

	// AppendRejected counts records rejected at append time
	AppendRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heron_store_append_rejected_total",
			Help: "Total number of records rejected by the store",
		},
		[]string{"reason"},
	)

	// BlocksScanned counts blocks fetched by the scan driver
	BlocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heron_blocks_scanned_total",
			Help: "Total number of blocks scanned",
		},
		[]string{"chain"},
	)

	// ScanHead tracks the last block appended by the scan driver
	ScanHead = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heron_scan_head_block",
			Help: "Last block number scanned",
		},
		[]string{"chain"},
	)

	// RPCCallsTotal counts provider calls by method and outcome
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heron_rpc_calls_total",
			Help: "Total number of JSON-RPC calls",
		},
		[]string{"method", "status"},
	)

	// RPCLatency tracks provider call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heron_rpc_latency_seconds",
			Help:    "JSON-RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// PassesTotal counts detection passes by outcome
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heron_passes_total",
			Help: "Total number of detection passes",
		},
		[]string{"status"},
	)

	// SuiteDuration tracks how long each detector suite takes per pass
	SuiteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heron_suite_duration_seconds",
			Help:    "Detector suite duration per pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"suite"},
	)

	// FindingsTotal counts findings emitted by completed passes
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heron_findings_total",
			Help: "Total number of findings from completed passes",
		},
		[]string{"family", "kind", "severity"},
	)

	// ExportErrors counts exporter failures
	ExportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heron_export_errors_total",
			Help: "Total number of exporter failures",
		},
		[]string{"exporter"},
	)

	// HTTPRequestDuration measures API latency per route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heron_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

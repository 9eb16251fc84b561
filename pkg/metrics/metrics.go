package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerdb_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerdb_storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Blocktree Metrics
	BlobsInsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_blobs_inserted_total",
			Help: "Total number of blobs written to the ledger",
		},
		[]string{"kind"},
	)

	DuplicateBlobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_duplicate_blobs_total",
			Help: "Total number of blobs ignored because they were already stored",
		},
		[]string{"kind"},
	)

	SlotAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_slot_anomalies_total",
			Help: "Total number of slot meta invariant violations observed",
		},
		[]string{"kind"},
	)

	// Erasure Metrics
	RecoveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_recovery_attempts_total",
			Help: "Total number of erasure set recovery attempts",
		},
		[]string{"result"},
	)

	RecoveredBlobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_recovered_blobs_total",
			Help: "Total number of blobs reconstructed from erasure coding",
		},
		[]string{"kind"},
	)

	RecoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerdb_recovery_duration_seconds",
			Help:    "Duration of erasure set recovery in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

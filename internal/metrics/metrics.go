package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesScanned counts legacy files that passed the name and settle filters
	FilesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobmigrate_files_scanned_total",
			Help: "Total number of legacy files considered for migration",
		},
	)

	// FilesSkipped counts legacy files skipped, by reason
	FilesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobmigrate_files_skipped_total",
			Help: "Total number of legacy files skipped during migration",
		},
		[]string{"reason"},
	)

	// FilesMigrated counts files uploaded and verified
	FilesMigrated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobmigrate_files_migrated_total",
			Help: "Total number of legacy files uploaded and verified",
		},
		[]string{"kind"},
	)

	// BytesUploaded counts payload bytes sent to the object store
	BytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobmigrate_uploaded_bytes_total",
			Help: "Total payload bytes uploaded to the object store",
		},
	)

	// SegmentsUploaded counts large-object segments uploaded
	SegmentsUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobmigrate_segments_uploaded_total",
			Help: "Total number of large-object segments uploaded",
		},
	)

	// IntegrityFailures counts checksum and size mismatches
	IntegrityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobmigrate_integrity_failures_total",
			Help: "Total number of integrity check failures",
		},
		[]string{"check"},
	)

	// CleanupFailures counts best-effort deletes of corrupt uploads that failed
	CleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobmigrate_cleanup_failures_total",
			Help: "Total number of failed deletes of corrupt uploads",
		},
	)

	// UploadDuration tracks single-object and segmented upload latency in seconds
	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobmigrate_upload_duration_seconds",
			Help:    "Upload duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"kind"},
	)

	// PoolIdle tracks idle connections held by the pool
	PoolIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobmigrate_pool_idle_connections",
			Help: "Number of idle object store connections in the pool",
		},
	)

	// PoolDials counts new authenticated connections
	PoolDials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobmigrate_pool_dials_total",
			Help: "Total number of object store connections dialed",
		},
		[]string{"result"},
	)

	// PoolDropped counts connections closed instead of reused, by reason
	PoolDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobmigrate_pool_dropped_total",
			Help: "Total number of object store connections closed instead of reused",
		},
		[]string{"reason"},
	)

	// ReadBytes counts bytes streamed back from the object store
	ReadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobmigrate_read_bytes_total",
			Help: "Total bytes streamed from the object store",
		},
	)

	// ReadsFinished counts streaming reads by outcome
	ReadsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobmigrate_reads_total",
			Help: "Total number of streaming reads by outcome",
		},
		[]string{"outcome"},
	)

	// RequestsInFlight tracks the number of HTTP requests currently being processed
	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobmigrate_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// RequestsTotal counts HTTP requests by method, operation and status code
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobmigrate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "operation", "status"},
	)

	// RequestDuration tracks HTTP request latency in seconds
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobmigrate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "operation"},
	)
)

// Skip reasons
const (
	SkipRecent    = "recent"
	SkipMalformed = "malformed"
	SkipOrphan    = "orphan"
	SkipExisting  = "existing"
)

// Upload kinds
const (
	KindSingle    = "single"
	KindSegmented = "segmented"
)

// Integrity checks
const (
	CheckChecksum     = "checksum"
	CheckSegment      = "segment"
	CheckExistingSize = "existing_size"
)

// Pool drop reasons
const (
	DropEvicted   = "evicted"
	DropDiscarded = "discarded"
)

// Read outcomes
const (
	ReadDrained   = "drained"
	ReadAbandoned = "abandoned"
	ReadFailed    = "failed"
)

// HTTP operations
const (
	OpGetBlob  = "GetBlob"
	OpHeadBlob = "HeadBlob"
	OpUnknown  = "Unknown"
)

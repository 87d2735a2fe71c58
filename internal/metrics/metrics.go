// Package metrics exposes the indexer's Prometheus surface: ingestion
// throughput, follow-loop cadence, expiry-computation outcomes, and the
// ambient runtime gauges every long-running process carries, following the
// teacher's promauto global-vars-plus-package-functions idiom.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChunksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_ingest_chunks_processed_total",
			Help: "Total number of chunk ranges committed by the ingestion engine",
		},
		[]string{"contract_family"},
	)

	EventsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_ingest_events_written_total",
			Help: "Total number of decoded events persisted",
		},
		[]string{"contract_family"},
	)

	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmstats_ingest_chunk_duration_seconds",
			Help:    "Wall-clock time to fetch, decode and commit one chunk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"contract_family"},
	)

	LastSyncedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmstats_ingest_last_synced_block",
			Help: "The last block number committed by the ingestion engine",
		},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_retry_attempts_total",
			Help: "Total number of retry attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	FollowTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_follow_ticks_total",
			Help: "Total number of follow-loop poll ticks by outcome",
		},
		[]string{"outcome"},
	)

	ExpiryComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_expiry_computations_total",
			Help: "Total number of batch TTL computations by outcome",
		},
		[]string{"outcome"},
	)

	DecodeSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_decode_skips_total",
			Help: "Total number of logs skipped during decode by contract and reason",
		},
		[]string{"contract", "reason"},
	)

	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_storage_errors_total",
			Help: "Total number of storage operation failures by backend and operation",
		},
		[]string{"backend", "operation"},
	)

	MaintenanceRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmstats_storage_maintenance_runs_total",
			Help: "Total number of sqlite maintenance cycles run",
		},
	)

	MaintenanceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_storage_maintenance_outcomes_total",
			Help: "Total number of sqlite maintenance cycles by outcome",
		},
		[]string{"status"},
	)

	MaintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmstats_storage_maintenance_duration_seconds",
			Help:    "Duration of sqlite maintenance cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaintenanceSpaceReclaimedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmstats_storage_maintenance_space_reclaimed_bytes",
			Help: "Bytes reclaimed by the last sqlite VACUUM",
		},
	)

	WALCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmstats_storage_wal_checkpoints_total",
			Help: "Total number of WAL checkpoints by mode",
		},
		[]string{"mode"},
	)

	VacuumRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmstats_storage_vacuum_runs_total",
			Help: "Total number of VACUUM operations run",
		},
	)

	DBSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmstats_storage_db_size_bytes",
			Help: "Sqlite database file size in bytes, including WAL/SHM siblings",
		},
	)

	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmstats_uptime_seconds",
			Help: "Process uptime in seconds",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmstats_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmstats_memory_usage_bytes",
			Help: "Process memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

// ChunkCommitted records one committed chunk's contribution to the
// ingestion counters, called by internal/ingest after a chunk transaction
// commits.
func ChunkCommitted(contractFamily string, events int, duration time.Duration, syncedTo uint64) {
	ChunksProcessed.WithLabelValues(contractFamily).Inc()
	EventsWritten.WithLabelValues(contractFamily).Add(float64(events))
	ChunkDuration.WithLabelValues(contractFamily).Observe(duration.Seconds())
	LastSyncedBlock.Set(float64(syncedTo))
}

// RetryAttempted records one retry-policy attempt outcome ("ok", "retryable"
// or "fatal"), called from internal/retry.Policy.Execute.
func RetryAttempted(operation, outcome string) {
	RetryAttempts.WithLabelValues(operation, outcome).Inc()
}

// FollowTick records one follow-loop poll outcome ("scanned", "skipped" or
// "error").
func FollowTick(outcome string) {
	FollowTicks.WithLabelValues(outcome).Inc()
}

// ExpiryComputed records one batch TTL computation outcome ("ok" or
// "failed").
func ExpiryComputed(outcome string) {
	ExpiryComputations.WithLabelValues(outcome).Inc()
}

// StorageError records one failed storage operation.
func StorageError(backend, operation string) {
	StorageErrors.WithLabelValues(backend, operation).Inc()
}

// DecodeSkip records one log dropped during decode, labelled by the reason
// (e.g. "unknown_event", "address_mismatch", "malformed") so malformed or
// mismatched rates are distinguishable from the expected high-volume
// unknown-topic case.
func DecodeSkip(contract, reason string) {
	DecodeSkips.WithLabelValues(contract, reason).Inc()
}

// MaintenanceRun marks the start of one maintenance cycle.
func MaintenanceRun() {
	MaintenanceRuns.Inc()
}

// MaintenanceCompleted records the outcome and duration of one maintenance
// cycle, called by internal/storage's sqlite maintenance coordinator.
func MaintenanceCompleted(ok bool, duration time.Duration) {
	MaintenanceDuration.Observe(duration.Seconds())
	status := "error"
	if ok {
		status = "success"
	}
	MaintenanceOutcomes.WithLabelValues(status).Inc()
}

// MaintenanceSpaceReclaimed records bytes reclaimed by the last VACUUM.
func MaintenanceSpaceReclaimed(bytesReclaimed uint64) {
	MaintenanceSpaceReclaimedBytes.Set(float64(bytesReclaimed))
}

// MaintenanceDBSize records the current sqlite file size.
func MaintenanceDBSize(sizeBytes int64) {
	DBSizeBytes.Set(float64(sizeBytes))
}

// WALCheckpoint records one WAL checkpoint by mode.
func WALCheckpoint(mode string) {
	WALCheckpoints.WithLabelValues(mode).Inc()
}

// VacuumRun records one VACUUM operation.
func VacuumRun() {
	VacuumRuns.Inc()
}

// UpdateSystemMetrics refreshes the ambient runtime gauges; called
// periodically by Server.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}

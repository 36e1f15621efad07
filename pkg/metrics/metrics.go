package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "regdocs"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	// Operations counts orchestrator calls by operation and outcome (ok or an error kind).
	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "operations_total", Help: "Orchestrator operations by outcome."},
		[]string{"op", "outcome"},
	)
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "operation_duration_seconds", Help: "Orchestrator operation latency.", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	BlobBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "blob_bytes_written_total", Help: "Bytes written to the content store."},
	)
	OrphanedBlobs = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "orphaned_blobs_total", Help: "Blobs written whose metadata commit failed."},
	)
	IndexTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "index_transitions_total", Help: "Index state transitions by target state and result."},
		[]string{"to", "result"},
	)
	IndexJobsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "index_jobs_published_total", Help: "Index jobs handed to the queue by result."},
		[]string{"result"},
	)
	ReconcileSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconcile_blobs_total", Help: "Blobs examined by the orphan sweep by action."},
		[]string{"action"},
	)
	ReconcileRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconcile_requeued_total", Help: "Pending versions re-published by the reconciler."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(Operations)
	reg.MustRegister(OperationDuration)
	reg.MustRegister(BlobBytesWritten)
	reg.MustRegister(OrphanedBlobs)
	reg.MustRegister(IndexTransitions)
	reg.MustRegister(IndexJobsPublished)
	reg.MustRegister(ReconcileSwept)
	reg.MustRegister(ReconcileRequeued)
}

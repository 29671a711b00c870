package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Latency of calls to the workspace store, email provider, LLM and feed.
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desk_remote_call_duration_seconds",
			Help:    "Duration of calls to remote collaborators in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"service", "operation", "status"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_emails_sent_total",
			Help: "Agenda emails submitted, by outcome",
		},
		[]string{"status"}, // sent, failed
	)

	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_records_written_total",
			Help: "Records created in the workspace store",
		},
		[]string{"kind"},
	)

	RecordsRetired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_records_retired_total",
			Help: "Duplicate records moved to trash, by outcome",
		},
		[]string{"status"}, // retired, failed
	)

	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_pipeline_runs_total",
			Help: "Pipeline runs by kind and final status",
		},
		[]string{"kind", "status"},
	)
)

// RecordRemoteCall observes one remote call.
func RecordRemoteCall(service, operation, status string, d time.Duration) {
	RemoteCallDuration.WithLabelValues(service, operation, status).Observe(d.Seconds())
}

func IncrementEmailSent(status string) {
	EmailsSent.WithLabelValues(status).Inc()
}

func IncrementRecordsWritten(kind string) {
	RecordsWritten.WithLabelValues(kind).Inc()
}

func IncrementRecordsRetired(status string) {
	RecordsRetired.WithLabelValues(status).Inc()
}

func IncrementPipelineRun(kind, status string) {
	PipelineRuns.WithLabelValues(kind, status).Inc()
}

// CallStatus labels a call outcome from its error and HTTP status.
func CallStatus(err error, statusCode int) string {
	switch {
	case statusCode >= 500:
		return "5xx"
	case statusCode >= 400:
		return "4xx"
	case err != nil:
		return "error"
	default:
		return "success"
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters, labeled by outcome so false accepts/rejects and
// dedup hits show up separately on dashboards.
var (
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_enrollments_total",
		Help: "Enrollment attempts by outcome.",
	}, []string{"outcome"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_verifications_total",
		Help: "Verification attempts by outcome.",
	}, []string{"outcome"})

	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_attendance_marks_total",
		Help: "Ledger writes by result (created, already_marked).",
	}, []string{"result"})

	EmbedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "faceattend_embedding_request_seconds",
		Help:    "Latency of embedding provider calls.",
		Buckets: prometheus.DefBuckets,
	})
)

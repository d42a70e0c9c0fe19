package gateway

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/viant/nexus/progress"
	"github.com/viant/nexus/service/poller"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_gateway_http_requests_total",
			Help: "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	awaitResultDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_await_result_duration_seconds",
			Help:    "Time callers spent blocked on the outcome endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	requestStatusTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_requests_by_status_total",
			Help: "Requests observed per status since the runtime started",
		},
		[]string{"status"},
	)
)

// recordHTTPRequest bands status codes to keep label cardinality flat.
func recordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	status := "unknown"
	switch {
	case statusCode >= 200 && statusCode < 300:
		status = "2xx"
	case statusCode >= 300 && statusCode < 400:
		status = "3xx"
	case statusCode >= 400 && statusCode < 500:
		status = "4xx"
	case statusCode >= 500:
		status = "5xx"
	}

	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func observeAwait(kind poller.Kind, duration time.Duration) {
	awaitResultDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// observeProgress mirrors the tracker counters into gauges.
func observeProgress(p progress.Progress) {
	requestStatusTotal.WithLabelValues("submitted").Set(float64(p.SubmittedTotal))
	requestStatusTotal.WithLabelValues("awaiting_approval").Set(float64(p.AwaitingApprovalTotal))
	requestStatusTotal.WithLabelValues("approved").Set(float64(p.ApprovedTotal))
	requestStatusTotal.WithLabelValues("rejected").Set(float64(p.RejectedTotal))
	requestStatusTotal.WithLabelValues("expired").Set(float64(p.ExpiredTotal))
	requestStatusTotal.WithLabelValues("dispatched").Set(float64(p.DispatchedTotal))
	requestStatusTotal.WithLabelValues("in_progress").Set(float64(p.InProgressTotal))
	requestStatusTotal.WithLabelValues("completed").Set(float64(p.CompletedTotal))
	requestStatusTotal.WithLabelValues("failed").Set(float64(p.FailedTotal))
}

var bindApprovalBacklogOnce sync.Once

// bindApprovalBacklog exposes the live pending count straight from the gate,
// which stays correct when policy denials reject requests that never waited.
func bindApprovalBacklog(pending func() int) {
	bindApprovalBacklogOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "nexus_approval_backlog",
			Help: "Approval requests still awaiting a decision",
		}, func() float64 { return float64(pending()) })
	})
}

var bindResultStatsOnce sync.Once

// bindResultStats registers poller drop counters with the default registry.
// Registration happens once per process; the registry rejects duplicates.
func bindResultStats(stats func() poller.Stats) {
	bindResultStatsOnce.Do(func() {
		promauto.NewCounterFunc(prometheus.CounterOpts{
			Name: "nexus_duplicate_results_total",
			Help: "Results dropped because the request already reached a terminal status",
		}, func() float64 { return float64(stats().Duplicates) })

		promauto.NewCounterFunc(prometheus.CounterOpts{
			Name: "nexus_unknown_results_total",
			Help: "Results dropped because no request record was found",
		}, func() float64 { return float64(stats().Unknown) })
	})
}

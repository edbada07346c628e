// Package metrics holds the Prometheus collectors shared by the HTTP layer
// and the payment services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hui",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hui",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	PaymentsVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hui",
		Name:      "payments_verified_total",
		Help:      "Payments moved to COMPLETED, by type.",
	}, []string{"type"})

	FinesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hui",
		Name:      "fines_issued_total",
		Help:      "Fines created for overdue contributions.",
	})

	CyclesAdvanced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hui",
		Name:      "cycles_advanced_total",
		Help:      "Group cycles opened.",
	})

	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hui",
		Name:      "payment_reminders_total",
		Help:      "Due-date reminders sent.",
	})
)

func Handler() http.Handler { return promhttp.Handler() }

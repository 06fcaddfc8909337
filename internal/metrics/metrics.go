package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Notifications by flow (redirect|webhook) and outcome.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wompi_notifications_total",
			Help: "Inbound Wompi notifications by flow and outcome",
		},
		[]string{"flow", "outcome"},
	)

	OriginVerificationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wompi_origin_verification_seconds",
			Help:    "Latency of the GET /transactions/{id} origin check",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	registerOnce sync.Once
)

var Handler = promhttp.Handler

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(NotificationsTotal)
		prometheus.MustRegister(OriginVerificationSeconds)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}

func ObserveNotification(flow, outcome string) {
	NotificationsTotal.WithLabelValues(flow, outcome).Inc()
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on o.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}

// Package metrics holds the Prometheus collectors of the pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_webhooks_total",
		Help: "Webhook deliveries by channel and outcome.",
	}, []string{"channel", "outcome"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_events_dropped_total",
		Help: "Inbound events dropped before or instead of replying, by reason.",
	}, []string{"reason"})

	RepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_replies_total",
		Help: "Automatic replies by channel and send status.",
	}, []string{"channel", "status"})

	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_escalations_total",
		Help: "Conversations handed over to a human advisor.",
	})

	ReplyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_reply_latency_seconds",
		Help:    "Time from inbound message storage to reply dispatch, including the debounce wait.",
		Buckets: []float64{1, 5, 10, 15, 20, 30, 60, 120},
	}, []string{"channel"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Dropped counts a dropped event.
func Dropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// Webhook counts a webhook delivery.
func Webhook(channel, outcome string) {
	WebhooksTotal.WithLabelValues(channel, outcome).Inc()
}

// Reply counts a reply attempt and observes its latency.
func Reply(channel string, sent bool, since time.Time) {
	status := "sent"
	if !sent {
		status = "failed"
	}
	RepliesTotal.WithLabelValues(channel, status).Inc()
	if !since.IsZero() {
		ReplyLatency.WithLabelValues(channel).Observe(time.Since(since).Seconds())
	}
}

// RouteFunc names the route of a request for labelling.
type RouteFunc func(r *http.Request) string

// Middleware records request counts and latency per route.
func Middleware(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			name := route(r)
			HTTPRequests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
			HTTPDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

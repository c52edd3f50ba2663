package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration measures HTTP handler latency labeled by mux route
	// template so per-thread paths don't explode cardinality.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridged_http_request_duration_seconds",
		Help:    "HTTP request latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridged_events_appended_total",
		Help: "Events durably appended, by type.",
	}, []string{"type"})

	WritesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridged_writes_rejected_total",
		Help: "Writes rejected before append, by reason.",
	}, []string{"reason"})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridged_stream_subscribers",
		Help: "Currently attached live stream subscribers.",
	})

	SubscriberOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridged_stream_subscriber_overflows_total",
		Help: "Subscriptions torn down because the client fell behind.",
	})

	AdapterInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridged_adapter_invocations_total",
		Help: "Coordinator adapter subprocess invocations, by outcome.",
	}, []string{"target", "outcome"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE streaming keeps working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request durations for every routed handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

// Package metrics exposes Prometheus metrics for registrations and lookups.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/envhub/env-registry/pkg/envreg"
)

// Recorder stores all the metrics of the registry.
type Recorder struct {
	registrations        *prometheus.CounterVec
	registrationDuration *prometheus.HistogramVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

var _ envreg.RegistrationObserver = (*Recorder)(nil)

// NewRecorder creates the registry metrics and registers them on reg. A nil
// reg skips registration, which lets tests read the collectors directly.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envreg_registrations_total",
				Help: "Registration attempts, grouped by kind, outcome and error code",
			}, []string{"kind", "outcome", "code"}),
		registrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "envreg_registration_duration_seconds",
				Help:    "Time from authentication to commit or failure of a registration",
				Buckets: prometheus.DefBuckets,
			}, []string{"kind", "outcome"}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "envreg_http_requests_total",
				Help: "HTTP requests, grouped by method, route and status code",
			}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "envreg_http_request_duration_seconds",
				Help:    "HTTP request latencies",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "route"}),
	}

	if reg != nil {
		reg.MustRegister(
			r.registrations,
			r.registrationDuration,
			r.httpRequests,
			r.httpDuration,
		)
	}
	return r
}

// RegistrationFinished counts a registration attempt and observes its
// duration.
func (r *Recorder) RegistrationFinished(_ context.Context, ev envreg.RegistrationEvent) {
	outcome := "success"
	if !ev.Succeeded() {
		outcome = "failure"
	}
	r.registrations.WithLabelValues(ev.Kind, outcome, ev.Code()).Inc()
	r.registrationDuration.WithLabelValues(ev.Kind, outcome).Observe(ev.Duration.Seconds())
}

// Middleware counts requests by their chi route pattern, so that lookups
// of different names share one series.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

// NewRegistry returns a registry with the Go runtime and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics of gatherer in the Prometheus exposition
// format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

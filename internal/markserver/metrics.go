package markserver

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	created     prometheus.Counter
	deleted     prometheus.Counter
	events      *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copus",
			Name:      "http_requests_total",
			Help:      "Mark API requests by route and status code",
		}, []string{"route", "code"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "copus",
			Name:      "marks_created_total",
			Help:      "Marks created",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "copus",
			Name:      "marks_deleted_total",
			Help:      "Marks deleted",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copus",
			Name:      "event_publish_total",
			Help:      "Mark events published by result",
		}, []string{"result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "copus",
			Name:      "subscribers",
			Help:      "Connected websocket subscribers",
		}),
	}
	m.registry.MustRegister(m.requests, m.created, m.deleted, m.events, m.subscribers)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument counts requests by route template and status code.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

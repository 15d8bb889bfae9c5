// Package metrics provides the default corecontract.MetricsSink, backed by
// the Prometheus client library. It is grounded on the teacher's Collector
// (a fixed, hand-enumerated set of counters/gauges for one job pipeline) but
// generalized into a dynamic registry: callers name and label their own
// metrics through the Register* calls instead of the sink exposing one
// method per measurement, since the core doesn't know in advance how many
// destinations or queues a given configuration will stand up.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is a Prometheus-backed corecontract.MetricsSink. The zero value is
// not usable; construct with NewSink.
type Sink struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewSink constructs a Sink with its own private Prometheus registry, so
// that tests (and multiple Sinks within one process, e.g. for per-instance
// daemons in one test binary) never collide on prometheus.DefaultRegisterer.
func NewSink() *Sink {
	return &Sink{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
}

// Registry exposes the underlying *prometheus.Registry, for wiring a
// promhttp.Handler in cmd/logrelayd.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

func metricKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += "|" + k + "=" + labels[k]
	}
	return key
}

// RegisterCounter returns a handle for a monotonically increasing counter
// named name. Calling it twice with the same name and labels returns the
// same handle rather than erroring, so destination/queue constructors don't
// need to track whether they are the first instance to register a given
// metric name.
func (s *Sink) RegisterCounter(name string, labels map[string]string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := metricKey(name, labels)
	if c, ok := s.counters[key]; ok {
		return c, nil
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        fmt.Sprintf("%s (registered at runtime)", name),
		ConstLabels: prometheus.Labels(labels),
	})
	if err := s.registry.Register(c); err != nil {
		return nil, err
	}
	s.counters[key] = c
	return c, nil
}

// RegisterGauge is RegisterCounter's gauge counterpart.
func (s *Sink) RegisterGauge(name string, labels map[string]string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := metricKey(name, labels)
	if g, ok := s.gauges[key]; ok {
		return g, nil
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        fmt.Sprintf("%s (registered at runtime)", name),
		ConstLabels: prometheus.Labels(labels),
	})
	if err := s.registry.Register(g); err != nil {
		return nil, err
	}
	s.gauges[key] = g
	return g, nil
}

// Add adds n to the counter behind handle. handle must have come from
// RegisterCounter; passing anything else panics via the failed type
// assertion, which is intentional — a caller holding the wrong handle type
// is a programming error, not a runtime condition to recover from.
func (s *Sink) Add(handle any, n float64) {
	handle.(prometheus.Counter).Add(n)
}

// Set assigns n to the gauge behind handle.
func (s *Sink) Set(handle any, n float64) {
	handle.(prometheus.Gauge).Set(n)
}

// Inc increments the gauge behind handle by one.
func (s *Sink) Inc(handle any) {
	handle.(prometheus.Gauge).Inc()
}

// Dec decrements the gauge behind handle by one.
func (s *Sink) Dec(handle any) {
	handle.(prometheus.Gauge).Dec()
}

// Handler returns an http.Handler serving this Sink's registry in the
// Prometheus exposition format, for mounting under /metrics.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// StartServer starts a standalone HTTP server exposing s.Handler() at
// /metrics on port. It blocks until the server stops or fails; callers
// normally run it in its own goroutine.
func (s *Sink) StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}

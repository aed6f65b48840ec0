// Package prom provides an elk.Statter which exports Prometheus metrics.
package prom

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/grimoire/elk"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "elk"

var _ elk.Statter = &Statter{}

// Statter is an elk.Statter which turns each stat name into a Prometheus
// metric, e.g. Count("bulk.documents") into the counter
// elk_bulk_documents_total. Tags and sample rates are ignored.
type Statter struct {
	reg     *prometheus.Registry
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// NewStatter gets a Statter registering its metrics in a new registry, along
// with the Go and process collectors.
func NewStatter() *Statter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Statter{
		reg:        reg,
		factory:    promauto.With(reg),
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Registry is the registry the Statter's metrics are in.
func (s *Statter) Registry() *prometheus.Registry { return s.reg }

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

// Count implements elk.Statter.
func (s *Statter) Count(name string, value int64, rate float64, tags ...string) {
	s.mu.Lock()
	c, ok := s.counters[name]
	if !ok {
		c = s.factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      metricName(name) + "_total",
			Help:      "Total " + name + ".",
		})
		s.counters[name] = c
	}
	s.mu.Unlock()
	c.Add(float64(value))
}

// Gauge implements elk.Statter.
func (s *Statter) Gauge(name string, value float64, rate float64, tags ...string) {
	s.mu.Lock()
	g, ok := s.gauges[name]
	if !ok {
		g = s.factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      metricName(name),
			Help:      "Current " + name + ".",
		})
		s.gauges[name] = g
	}
	s.mu.Unlock()
	g.Set(value)
}

// Histogram implements elk.Statter.
func (s *Statter) Histogram(name string, value float64, rate float64, tags ...string) {
	s.histogram(metricName(name), name, prometheus.DefBuckets).Observe(value)
}

// Set implements elk.Statter. Prometheus has no set type, so it does
// nothing.
func (s *Statter) Set(name string, value string, rate float64, tags ...string) {}

// Timing implements elk.Statter as a histogram in seconds.
func (s *Statter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	s.histogram(metricName(name)+"_seconds", name, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}).Observe(value.Seconds())
}

func (s *Statter) histogram(metric, name string, buckets []float64) prometheus.Histogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histograms[metric]
	if !ok {
		h = s.factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      metric,
			Help:      "Distribution of " + name + ".",
			Buckets:   buckets,
		})
		s.histograms[metric] = h
	}
	return h
}

// Handler serves the Statter's metrics.
func (s *Statter) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}

// Serve serves the metrics on addr at /metrics until ctx is done.
func (s *Statter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Wrap(err, "serving metrics")
}

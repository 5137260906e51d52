// Package metrics exposes vmtools' Prometheus instrumentation.
//
// A nil *Metrics is valid and records nothing, so library packages can take
// one unconditionally.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

const namespace = "vmtools"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	qmpCommands        *prometheus.CounterVec
	eventsDropped      prometheus.Counter
	sample             *prometheus.GaugeVec
	samplesTotal       *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "External tool invocations by tool, verb and outcome.",
		}, []string{"tool", "verb", "outcome"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall time of external tool invocations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tool", "verb"}),
		qmpCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qmp_commands_total",
			Help:      "Monitor commands by command name and outcome.",
		}, []string{"command", "outcome"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qmp_events_dropped_total",
			Help:      "Monitor events dropped because the consumer fell behind.",
		}),
		sample: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vm_sample_value",
			Help:      "Latest live sample value per VM and metric, in the unit reported by the hypervisor.",
		}, []string{"vm", "metric", "unit"}),
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vm_samples_total",
			Help:      "Live samples collected per VM.",
		}, []string{"vm"}),
	}

	m.registry.MustRegister(
		m.invocations,
		m.invocationDuration,
		m.qmpCommands,
		m.eventsDropped,
		m.sample,
		m.samplesTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveInvocation records one external tool run.
func (m *Metrics) ObserveInvocation(tool, verb, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(tool, verb, outcome).Inc()
	m.invocationDuration.WithLabelValues(tool, verb).Observe(d.Seconds())
}

// ObserveQMP records one monitor command.
func (m *Metrics) ObserveQMP(command, outcome string) {
	if m == nil {
		return
	}
	m.qmpCommands.WithLabelValues(command, outcome).Inc()
}

// EventDropped counts one monitor event lost to a full buffer.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// RecordSample publishes every metric of s as a gauge labelled with vm.
func (m *Metrics) RecordSample(vm string, s v1alpha1.StatsSample) {
	if m == nil {
		return
	}
	for _, metric := range s.Metrics {
		m.sample.WithLabelValues(vm, metric.Name, metric.Unit).Set(metric.Value)
	}
	m.samplesTotal.WithLabelValues(vm).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes h at /metrics on addr until ctx is done, then shuts the
// server down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

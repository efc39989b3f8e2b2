package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kvs-bench/internal/events"
)

const namespace = "kvsbench"

// Outcome ラベルの値
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics は Prometheus のメトリクスを保持する
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	steadyState prometheus.Gauge
	phases      prometheus.Counter
	recorded    prometheus.Counter
	stressors   prometheus.Gauge
	failures    prometheus.Counter
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Number of measured requests by operation and outcome",
			}, []string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of measured requests by operation",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			}, []string{"operation"},
		),
		steadyState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "steady_state",
			Help:      "1 while a measurement phase is active",
		}),
		phases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phases_total",
			Help:      "Number of measurement phases started",
		}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statistics_recorded_total",
			Help:      "Number of phase statistics handed off",
		}),
		stressors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stressors",
			Help:      "Number of stressor goroutines started",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stressor_failures_total",
			Help:      "Number of stressors stopped by an error",
		}),
	}

	m.registry.MustRegister(
		m.requests, m.duration,
		m.steadyState, m.phases, m.recorded, m.stressors, m.failures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry は内部のレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用のハンドラを返す
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Watch は ctx が終わるか ch が閉じられるまでイベントをメトリクスに反映する
func (m *Metrics) Watch(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Apply(e)
		}
	}
}

// Apply は1件のイベントをメトリクスに反映する
func (m *Metrics) Apply(e events.Event) {
	switch e.Type {
	case events.EventSteadyStateBegin:
		m.steadyState.Set(1)
		m.phases.Inc()
	case events.EventSteadyStateEnd:
		m.steadyState.Set(0)
	case events.EventStatisticsRecorded:
		m.recorded.Inc()
	case events.EventStressorAdded:
		m.stressors.Set(float64(e.Data.Stressors))
	case events.EventStressorFailed:
		m.failures.Inc()
	case events.EventTestFinished:
		m.steadyState.Set(0)
	}
}

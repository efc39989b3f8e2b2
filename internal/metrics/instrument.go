package metrics

import (
	"time"

	"github.com/benbjohnson/clock"

	"kvs-bench/internal/operation"
	"kvs-bench/internal/stats"
)

// instrumented は記録を Prometheus にも反映する Statistics
type instrumented struct {
	inner stats.Statistics
	clock clock.Clock
	m     *Metrics
}

var (
	_ stats.Statistics = (*instrumented)(nil)
	_ stats.Wrapper    = (*instrumented)(nil)
)

// Instrument は s への記録をメトリクスにも反映するラッパーを返す
func (m *Metrics) Instrument(s stats.Statistics) stats.Statistics {
	clk := clock.New()
	if c, ok := s.(interface{ Clock() clock.Clock }); ok {
		clk = c.Clock()
	}
	return &instrumented{inner: s, clock: clk, m: m}
}

// InstrumentFactory は生成した Statistics を Instrument で包む Factory を返す
func (m *Metrics) InstrumentFactory(f stats.Factory) stats.Factory {
	return func() stats.Statistics {
		return m.Instrument(f())
	}
}

func (i *instrumented) Unwrap() stats.Statistics {
	return i.inner
}

func (i *instrumented) Begin() {
	i.inner.Begin()
}

func (i *instrumented) End() {
	i.inner.End()
}

func (i *instrumented) StartRequest() *stats.Request {
	return stats.NewRequest(i, i.clock)
}

func (i *instrumented) RequestSet() *stats.RequestSet {
	return stats.NewRequestSet(i)
}

func (i *instrumented) RegisterRequest(latency time.Duration, op operation.Operation) error {
	if err := i.inner.RegisterRequest(latency, op); err != nil {
		return err
	}
	i.m.observe(op, OutcomeSuccess, latency)
	return nil
}

func (i *instrumented) RegisterError(latency time.Duration, op operation.Operation) error {
	if err := i.inner.RegisterError(latency, op); err != nil {
		return err
	}
	i.m.observe(op, OutcomeError, latency)
	return nil
}

func (i *instrumented) Copy() stats.Statistics {
	return &instrumented{inner: i.inner.Copy(), clock: i.clock, m: i.m}
}

func (i *instrumented) Merge(other stats.Statistics) error {
	return i.inner.Merge(stats.Unwrap(other))
}

func (m *Metrics) observe(op operation.Operation, outcome string, latency time.Duration) {
	m.requests.WithLabelValues(op.Name(), outcome).Inc()
	m.duration.WithLabelValues(op.Name()).Observe(latency.Seconds())
}

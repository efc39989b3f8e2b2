// Package metrics exports load test measurements to Prometheus.
//
// Metrics owns a private prometheus.Registry, so several instances can live
// in one process (tests, for example) without colliding on the default
// registry.
//
// # Request Metrics
//
// Instrument wraps a stats.Statistics so that every registered request is
// also counted in kvsbench_requests_total{operation,outcome} and observed in
// the kvsbench_request_duration_seconds{operation} histogram:
//
//	m := metrics.New()
//	factory := m.InstrumentFactory(stats.NewFactory(stats.DefaultConfig()))
//
// Only measured (steady state) requests reach the wrapper; ramp-up requests
// are discarded before they are recorded.
//
// # Test Run Metrics
//
// Watch consumes an events.Bus subscription and maintains phase and
// stressor gauges until the context ends or the subscription is closed:
//
//	ch := bus.Subscribe()
//	defer bus.Unsubscribe(ch)
//	go m.Watch(ctx, ch)
//
// # HTTP
//
// Handler serves the registry in the Prometheus exposition format:
//
//	http.Handle("/metrics", m.Handler())
package metrics

// Package selector provides a time-windowed, weighted item picker.
//
// A Selector is built once per test phase from (item, invocations, window)
// tuples. Every item may be returned at most `invocations` times within each
// window [t0+k*W, t0+(k+1)*W), where t0 is the moment Build was called. When
// no item has quota left, Next blocks until the nearest window boundary.
//
// # Basic Usage
//
//	sel, err := selector.NewBuilder[string]().
//	    Add("get", 80, 100*time.Millisecond).
//	    Add("put", 20, 100*time.Millisecond).
//	    Build()
//
//	item, err := sel.Next(ctx) // blocks when the quota is exhausted
//
// # Refill Policy
//
// Quota is hard-reset at each boundary crossing; unused invocations of
// skipped windows are not accumulated.
//
// # Testing
//
// The clock is injectable (WithClock), so tests drive virtual time with
// clock.NewMock().
package selector

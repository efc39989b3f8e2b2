// Package future provides a single-assignment result with completion
// callbacks.
//
// A Future is completed exactly once, either by the goroutine that performs
// the work or by a backend callback. Callbacks registered with WhenComplete
// run on the completing goroutine, in registration order; when the future
// is already complete they run inline on the registering goroutine.
//
// # Basic Usage
//
//	f := future.New[string]()
//	f.WhenComplete(func(v string, err error) {
//	    fmt.Println(v, err)
//	})
//	go f.Complete("value", nil)
//
//	v, err := f.Wait(ctx)
//
// ErrRejected is the error used for a future whose work was refused by an
// executor.
package future

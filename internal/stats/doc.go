// Package stats provides the measurement contract used by stressors.
//
// A Statistics instance accumulates per-operation latency and error counts
// for one measured phase. It is bracketed by Begin and End and can be copied
// and merged for later aggregation.
//
// # Requests
//
// A Request is one timed attempt. It is created by Statistics.StartRequest
// and terminated exactly once by Succeeded or Failed, which forward the
// elapsed time to RegisterRequest or RegisterError of the owning Statistics.
// A nil *Request is a valid receiver and records nothing; stressors use it
// during ramp-up.
//
//	req := s.StartRequest()
//	err := doWork()
//	if err != nil {
//	    req.Failed(op)
//	} else {
//	    req.Succeeded(op)
//	}
//
// # Request Sets
//
// A RequestSet groups the requests of one multi-step conversation and
// registers their summed duration under a single operation.
//
// # Basic Statistics
//
// Basic is the default thread-safe implementation. It keeps count, error
// count, max, mean and variance (Welford) for each operation and a bounded
// latency sample for P99.
package stats

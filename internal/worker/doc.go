// Package worker provides job executors for asynchronous conversation steps.
//
// Executor is the interface the stressor uses to move work off its own
// goroutine. Pool implements it with a fixed number of worker goroutines
// reading from a bounded queue; Inline runs the job on the caller.
//
// # Basic Usage
//
//	pool := worker.NewPool(4) // 4 workers
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	if !pool.Submit(job) {
//	    // queue full or pool stopped: run it yourself
//	    job()
//	}
//
// # Configuration
//
// Use NewPoolWithConfig for custom settings:
//
//	config := worker.PoolConfig{
//	    NumWorkers:  8,
//	    QueueFactor: 200, // Queue size = 8 * 200 = 1600
//	}
//	pool := worker.NewPoolWithConfig(config)
//
// # Backpressure
//
// Submit never blocks: it returns false when the queue is full. Use
// SubmitWait to block until a slot is free.
//
// # Shutdown
//
// Stop stops accepting jobs and waits for queued jobs to finish. Abort
// cancels the pool first, so queued jobs that have not started are dropped.
// A panicking job is recovered and counted in Stats.
package worker

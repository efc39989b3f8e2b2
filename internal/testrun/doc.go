// Package testrun provides the shared state of a running load test.
//
// A Test owns the stressor goroutines, the measurement Phase they share,
// the conversation selector and the statistics recorded at the end of each
// steady-state window. It implements stressor.RunningTest.
//
// # Basic Usage
//
//	test := testrun.New(testrun.Config{
//	    Stressors:  8,
//	    Statistics: stats.NewFactory(stats.DefaultConfig()),
//	})
//	test.UpdateSelector(sel)
//	if err := test.Start(ctx); err != nil {
//	    return err
//	}
//
//	time.Sleep(rampUp)
//	test.SetSteadyState(true)
//	time.Sleep(duration)
//	test.SetSteadyState(false)
//
//	recorded, err := test.Statistics(ctx) // stops the stressors
//
// # Stressor Pooling
//
// When MinWaitingStressors is set, the selector tracks how many stressors
// are waiting for their next conversation. Whenever that number drops to
// the threshold another stressor is started, at most once per
// MinStressorCreationDelay and never beyond MaxStressors.
package testrun

// Package workload builds the conversations that stressors run against a
// backend.
//
// A Workload registers its operations (GET, PUT, REMOVE and their
// transactional counterparts) in an operation.Registry and produces a
// scheduling selector from a Config of per-window rates:
//
//   - single-request conversations for each of GET, PUT and REMOVE;
//   - a transactional conversation spanning TransactionSize random
//     requests, committed or rolled back according to Commit;
//   - an asynchronous composed conversation whose steps (get, put, remove,
//     pause) run on the stressor executor.
//
// # Basic Usage
//
//	w, err := workload.New(cache, registry, workload.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sel, err := w.Selector(clock.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	test.UpdateSelector(sel)
package workload

// Package node provides an in-memory key-value store node used as the
// service under test.
//
// Each Node stores versioned entries and supports optimistic transactions:
// a Txn buffers its writes, remembers the versions it read, and applies
// everything atomically on Commit unless one of the read keys changed in the
// meantime.
//
// # Basic Usage
//
//	n := node.New("node-1")
//	if err := n.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer n.Stop()
//
//	if err := n.Set(ctx, "key", []byte("value")); err != nil {
//	    log.Fatal(err)
//	}
//	value, ok, err := n.Get(ctx, "key")
//
// # Transactions
//
//	tx := n.Begin()
//	v, _, _ := tx.Get(ctx, "counter")
//	_ = tx.Set(ctx, "counter", next(v))
//	if err := tx.Commit(ctx); errors.Is(err, node.ErrConflict) {
//	    // another writer won
//	}
//
// A Txn can be suspended between steps of an asynchronous conversation;
// operations on a suspended Txn fail with ErrTxSuspended. A committed or
// rolled back Txn fails every operation with ErrTxDone.
//
// # Latency Injection
//
// SetDelay adds a fixed latency to every read and write, which is useful to
// simulate a slow backend in tests.
package node

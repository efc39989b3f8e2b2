// Package backend provides the key/value services that conversations run
// against.
//
// Every backend implements Cache with context-aware Get, Put and Remove.
// Backends that support transactions also implement Transactional, whose
// NewTx returns a Tx handle usable as a stressor transaction.
//
// # Implementations
//
//   - Memory routes keys over an in-process cluster of nodes. Transactions
//     are buffered per node and committed node by node, so a commit that
//     spans several nodes is not atomic across them.
//   - Redis talks to a Redis server through go-redis. Transactions queue
//     writes in a MULTI/EXEC pipeline; reads inside a transaction go to the
//     server directly and do not see queued writes. Rollback discards the
//     queue.
//   - LocalCache wraps go-cache. It is not transactional.
//
// # Basic Usage
//
//	c, err := backend.Open(ctx, backend.Config{Kind: backend.KindMemory, Nodes: 3})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	tx, err := backend.NewTx(c)
//	if errors.Is(err, backend.ErrNotTransactional) {
//	    // fall back to plain requests
//	}
package backend

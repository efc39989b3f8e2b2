// Package cluster provides multi-node cluster management.
//
// A Cluster manages multiple Node instances, providing operations for
// batch starting/stopping, node discovery, and key routing.
//
// # Basic Usage
//
//	c := cluster.New()
//
//	// Create and add nodes
//	if err := c.CreateNodes(5, "node"); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Start all nodes
//	if err := c.StartAll(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.StopAll()
//
//	// Route a key to its owning node
//	n, err := c.NodeFor("key")
//	if err == nil {
//	    _ = n.Set(ctx, "key", []byte("value"))
//	}
//
// # Routing
//
// NodeFor hashes the key with xxhash and picks a node from the sorted list
// of node IDs, so a key maps to the same node for as long as membership does
// not change.
//
// # Thread Safety
//
// All cluster operations are thread-safe and can be called concurrently.
// Node starting and stopping is performed in parallel with errgroup.
package cluster

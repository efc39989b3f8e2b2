package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"kvs-bench/internal/node"
)

func TestNewCluster(t *testing.T) {
	c := New()

	if c.Size() != 0 {
		t.Errorf("expected size 0, got %d", c.Size())
	}
}

func TestClusterAddNode(t *testing.T) {
	c := New()
	n := node.New("test-node-1")

	if err := c.AddNode(n); err != nil {
		t.Errorf("failed to add node: %v", err)
	}

	if c.Size() != 1 {
		t.Errorf("expected size 1, got %d", c.Size())
	}

	// Add duplicate should fail
	if err := c.AddNode(n); !errors.Is(err, ErrNodeExists) {
		t.Errorf("expected ErrNodeExists, got %v", err)
	}
}

func TestClusterStartStopAll(t *testing.T) {
	c := New()
	ctx := context.Background()

	_ = c.CreateNodes(5, "node")

	// Start all
	if err := c.StartAll(ctx); err != nil {
		t.Errorf("failed to start all: %v", err)
	}

	if c.RunningCount() != 5 {
		t.Errorf("expected 5 running, got %d", c.RunningCount())
	}

	// Stop all
	if err := c.StopAll(); err != nil {
		t.Errorf("failed to stop all: %v", err)
	}

	if c.RunningCount() != 0 {
		t.Errorf("expected 0 running, got %d", c.RunningCount())
	}

	if s := c.Stats(); s.Nodes != 5 || s.Running != 0 {
		t.Errorf("unexpected stats after stop: %+v", s)
	}
}

func TestClusterNodes(t *testing.T) {
	c := New()

	_ = c.CreateNodes(3, "node")

	nodes := c.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	for i, want := range []string{"node-1", "node-2", "node-3"} {
		if nodes[i].ID() != want {
			t.Errorf("expected nodes[%d] = %s, got %s", i, want, nodes[i].ID())
		}
	}
}

func TestClusterNodeFor(t *testing.T) {
	c := New()

	if _, err := c.NodeFor("key"); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}

	_ = c.CreateNodes(4, "node")

	owners := make(map[string]int)
	for i := range 200 {
		key := fmt.Sprintf("key-%d", i)
		n1, err := c.NodeFor(key)
		if err != nil {
			t.Fatal(err)
		}
		n2, _ := c.NodeFor(key)
		if n1 != n2 {
			t.Errorf("expected stable routing for %s", key)
		}
		owners[n1.ID()]++
	}

	if len(owners) != 4 {
		t.Errorf("expected keys spread over 4 nodes, got %v", owners)
	}
}

func TestClusterRoutedWrites(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.CreateNodes(3, "node")
	if err := c.StartAll(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.StopAll()

	for i := range 30 {
		key := fmt.Sprintf("key-%d", i)
		n, _ := c.NodeFor(key)
		if err := n.Set(ctx, key, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	if c.TotalSize() != 30 {
		t.Errorf("expected 30 keys, got %d", c.TotalSize())
	}
}

func TestClusterStats(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.CreateNodes(2, "node")
	if err := c.StartAll(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.StopAll()

	for i := range 10 {
		key := fmt.Sprintf("key-%d", i)
		n, _ := c.NodeFor(key)
		_ = n.Set(ctx, key, []byte("v"))
		_, _, _ = n.Get(ctx, key)
	}

	n, _ := c.NodeFor("key-0")
	tx := n.Begin()
	if err := tx.Set(ctx, "key-0", []byte("w")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	s := c.Stats()
	if s.Nodes != 2 || s.Running != 2 {
		t.Errorf("expected 2 running nodes, got %+v", s)
	}
	if s.Keys != 10 {
		t.Errorf("expected 10 keys, got %d", s.Keys)
	}
	if s.Reads != 10 {
		t.Errorf("expected 10 reads, got %d", s.Reads)
	}
	if s.Commits != 1 || s.Conflicts != 0 {
		t.Errorf("expected 1 commit without conflicts, got %+v", s)
	}
}

func TestClusterStartAllFailure(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.CreateNodes(2, "node")

	_ = c.Nodes()[0].Start(ctx)

	if err := c.StartAll(ctx); !errors.Is(err, node.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	_ = c.StopAll()
}

func TestClusterCreateNodes(t *testing.T) {
	c := New()

	if err := c.CreateNodes(10, "test"); err != nil {
		t.Errorf("failed to create nodes: %v", err)
	}

	if c.Size() != 10 {
		t.Errorf("expected size 10, got %d", c.Size())
	}

	// Verify nodes exist
	ids := make(map[string]bool)
	for _, n := range c.Nodes() {
		ids[n.ID()] = true
	}
	for i := 1; i <= 10; i++ {
		nodeID := fmt.Sprintf("test-%d", i)
		if !ids[nodeID] {
			t.Errorf("expected node %s to exist", nodeID)
		}
	}
}

func TestClusterConcurrentAccess(t *testing.T) {
	c := New()
	ctx := context.Background()

	_ = c.CreateNodes(10, "node")
	_ = c.StartAll(ctx)

	var wg sync.WaitGroup

	// Concurrent reads
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Nodes()
			_ = c.Size()
			_ = c.RunningCount()
			_, _ = c.NodeFor("key")
		}()
	}

	wg.Wait()
	_ = c.StopAll()
}

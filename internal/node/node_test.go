package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func startedNode(t *testing.T) *Node {
	t.Helper()
	n := New("test-node-1")
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("failed to start node: %v", err)
	}
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func TestNewNode(t *testing.T) {
	n := New("test-node-1")

	if n.ID() != "test-node-1" {
		t.Errorf("expected ID 'test-node-1', got '%s'", n.ID())
	}

	if n.Status() != StatusStopped {
		t.Errorf("expected status Stopped, got %v", n.Status())
	}
}

func TestNodeStartStop(t *testing.T) {
	n := New("test-node-1")
	ctx := context.Background()

	if err := n.Start(ctx); err != nil {
		t.Errorf("failed to start node: %v", err)
	}
	if n.Status() != StatusRunning {
		t.Errorf("expected status Running, got %v", n.Status())
	}

	// Double start should fail
	if err := n.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := n.Stop(); err != nil {
		t.Errorf("failed to stop node: %v", err)
	}
	if n.Status() != StatusStopped {
		t.Errorf("expected status Stopped, got %v", n.Status())
	}

	// Double stop should fail
	if err := n.Stop(); !errors.Is(err, ErrAlreadyStopped) {
		t.Errorf("expected ErrAlreadyStopped, got %v", err)
	}
}

func TestNodeGetSetDelete(t *testing.T) {
	n := New("test-node-1")
	ctx := context.Background()

	// Set before start should fail
	if err := n.Set(ctx, "key1", []byte("value1")); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}

	if err := n.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer n.Stop()

	if err := n.Set(ctx, "key1", []byte("value1")); err != nil {
		t.Errorf("failed to set: %v", err)
	}

	val, ok, err := n.Get(ctx, "key1")
	if err != nil || !ok {
		t.Fatalf("expected key1 to exist, ok=%v err=%v", ok, err)
	}
	if string(val) != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}

	if _, ok, _ := n.Get(ctx, "missing"); ok {
		t.Error("expected missing key not to exist")
	}

	existed, err := n.Delete(ctx, "key1")
	if err != nil || !existed {
		t.Errorf("expected delete of existing key, existed=%v err=%v", existed, err)
	}
	existed, _ = n.Delete(ctx, "key1")
	if existed {
		t.Error("expected second delete to report missing key")
	}
	if n.Size() != 0 {
		t.Errorf("expected size 0, got %d", n.Size())
	}

	s := n.Stats()
	if s.Reads != 2 || s.Writes != 3 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestNodeDelay(t *testing.T) {
	n := startedNode(t)
	n.SetDelay(20 * time.Millisecond)

	if n.Delay() != 20*time.Millisecond {
		t.Errorf("expected delay 20ms, got %v", n.Delay())
	}

	start := time.Now()
	if err := n.Set(context.Background(), "key", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected at least 20ms, got %v", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := n.Get(ctx, "key"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNodeConcurrentAccess(t *testing.T) {
	n := startedNode(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%10)
			_ = n.Set(ctx, key, []byte("value"))
			_, _, _ = n.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if n.Size() != 10 {
		t.Errorf("expected 10 keys, got %d", n.Size())
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStopped, "stopped"},
		{StatusRunning, "running"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %s, want %s", tt.status, got, tt.want)
		}
	}
}

package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kvs-bench/internal/logger"
)

var (
	// ErrNotRunning は停止中のノードへの操作で返される
	ErrNotRunning = errors.New("node is not running")
	// ErrAlreadyRunning は起動済みノードの Start で返される
	ErrAlreadyRunning = errors.New("node is already running")
	// ErrAlreadyStopped は停止済みノードの Stop で返される
	ErrAlreadyStopped = errors.New("node is already stopped")
)

// Store はKVSの基本操作を定義するインターフェース
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) (bool, error)
	Size() int
}

// Ensure Node implements Store
var _ Store = (*Node)(nil)

// Status はノードの状態を表す
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// entry はバージョン付きの値
type entry struct {
	value   []byte
	version uint64
}

// Stats はノードの操作回数
type Stats struct {
	Reads     uint64
	Writes    uint64
	Commits   uint64
	Conflicts uint64
}

// Node はインメモリKVSの単一ノードを表す
type Node struct {
	id     string
	status Status
	delay  time.Duration

	mu      sync.RWMutex
	data    map[string]entry
	version uint64 // 最後に割り当てたバージョン

	reads     atomic.Uint64
	writes    atomic.Uint64
	commits   atomic.Uint64
	conflicts atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New は新しいノードを作成する
func New(id string) *Node {
	return &Node{
		id:     id,
		status: StatusStopped,
		data:   make(map[string]entry),
	}
}

// ID はノードIDを返す
func (n *Node) ID() string {
	return n.id
}

// Start はノードを起動する
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == StatusRunning {
		return fmt.Errorf("node %s: %w", n.id, ErrAlreadyRunning)
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.status = StatusRunning

	logger.Debug(n.id, "Node started")
	return nil
}

// Stop はノードを停止する
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == StatusStopped {
		return fmt.Errorf("node %s: %w", n.id, ErrAlreadyStopped)
	}

	if n.cancel != nil {
		n.cancel()
	}
	n.status = StatusStopped

	logger.Debug(n.id, "Node stopped")
	return nil
}

// Status はノードの現在のステータスを返す
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// SetDelay はレスポンス遅延を設定する
func (n *Node) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// Delay は現在の遅延設定を返す
func (n *Node) Delay() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.delay
}

// applyDelay は設定された遅延を適用する
func (n *Node) applyDelay(ctx context.Context) error {
	d := n.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Get はキーに対応する値を取得する
func (n *Node) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok, err := n.read(ctx, key)
	return e.value, ok, err
}

func (n *Node) read(ctx context.Context, key string) (entry, bool, error) {
	if err := n.applyDelay(ctx); err != nil {
		return entry{}, false, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.status != StatusRunning {
		return entry{}, false, fmt.Errorf("node %s: %w", n.id, ErrNotRunning)
	}
	n.reads.Add(1)
	e, exists := n.data[key]
	return e, exists, nil
}

// Set はキーに値を設定する
func (n *Node) Set(ctx context.Context, key string, value []byte) error {
	if err := n.applyDelay(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusRunning {
		return fmt.Errorf("node %s: %w", n.id, ErrNotRunning)
	}
	n.writes.Add(1)
	n.setLocked(key, value)
	return nil
}

// Delete はキーを削除し、存在していたかどうかを返す
func (n *Node) Delete(ctx context.Context, key string) (bool, error) {
	if err := n.applyDelay(ctx); err != nil {
		return false, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusRunning {
		return false, fmt.Errorf("node %s: %w", n.id, ErrNotRunning)
	}
	n.writes.Add(1)
	_, existed := n.data[key]
	delete(n.data, key)
	return existed, nil
}

func (n *Node) setLocked(key string, value []byte) {
	n.version++
	n.data[key] = entry{value: value, version: n.version}
}

// versionLocked はキーの現在のバージョンを返す（存在しなければ0）
func (n *Node) versionLocked(key string) uint64 {
	return n.data[key].version
}

// Size はデータストアのサイズを返す
func (n *Node) Size() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.data)
}

// Stats は操作回数を返す
func (n *Node) Stats() Stats {
	return Stats{
		Reads:     n.reads.Load(),
		Writes:    n.writes.Load(),
		Commits:   n.commits.Load(),
		Conflicts: n.conflicts.Load(),
	}
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kvs-bench/internal/cluster"
	"kvs-bench/internal/node"
)

// Memory はインメモリクラスタ上のバックエンド
type Memory struct {
	cluster *cluster.Cluster
}

var (
	_ Transactional = (*Memory)(nil)
	_ Reporter      = (*Memory)(nil)
	_ Tx            = (*memoryTx)(nil)
)

// NewMemory は nodes 個のノードを起動してバックエンドを作成する
func NewMemory(ctx context.Context, nodes int, delay time.Duration) (*Memory, error) {
	if nodes <= 0 {
		nodes = 1
	}
	c := cluster.New()
	if err := c.CreateNodes(nodes, "node"); err != nil {
		return nil, err
	}
	for _, n := range c.Nodes() {
		n.SetDelay(delay)
	}
	if err := c.StartAll(ctx); err != nil {
		return nil, err
	}
	return &Memory{cluster: c}, nil
}

// StoreStats はクラスタの状態と操作回数を返す
func (m *Memory) StoreStats() cluster.Stats {
	return m.cluster.Stats()
}

// Name はバックエンド名を返す
func (m *Memory) Name() string {
	return string(KindMemory)
}

// Get は値を取得する
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	n, err := m.cluster.NodeFor(key)
	if err != nil {
		return nil, false, err
	}
	return n.Get(ctx, key)
}

// Put は値を書き込む
func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	n, err := m.cluster.NodeFor(key)
	if err != nil {
		return err
	}
	return n.Set(ctx, key, value)
}

// Remove はキーを削除する
func (m *Memory) Remove(ctx context.Context, key string) (bool, error) {
	n, err := m.cluster.NodeFor(key)
	if err != nil {
		return false, err
	}
	return n.Delete(ctx, key)
}

// Close は自身で起動したクラスタを停止する
func (m *Memory) Close() error {
	return m.cluster.StopAll()
}

// NewTx はトランザクションハンドルを作成する
func (m *Memory) NewTx() Tx {
	return &memoryTx{cluster: m.cluster}
}

// memoryTx はノードごとの node.Txn をまとめる
type memoryTx struct {
	cluster *cluster.Cluster

	mu     sync.Mutex
	begun  bool
	nodes  []*node.Node // 参加順
	active map[*node.Node]*node.Txn
}

func (t *memoryTx) Begin(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.begun {
		return ErrTxBegun
	}
	t.begun = true
	t.active = make(map[*node.Node]*node.Txn)
	return nil
}

// txnFor はキーを担当するノードのトランザクションを返す
func (t *memoryTx) txnFor(key string) (*node.Txn, error) {
	n, err := t.cluster.NodeFor(key)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.begun {
		return nil, ErrTxNotBegun
	}
	if t.active == nil {
		return nil, ErrTxDone
	}
	txn, ok := t.active[n]
	if !ok {
		txn = n.Begin()
		t.active[n] = txn
		t.nodes = append(t.nodes, n)
	}
	return txn, nil
}

func (t *memoryTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	txn, err := t.txnFor(key)
	if err != nil {
		return nil, false, err
	}
	return txn.Get(ctx, key)
}

func (t *memoryTx) Put(ctx context.Context, key string, value []byte) error {
	txn, err := t.txnFor(key)
	if err != nil {
		return err
	}
	return txn.Set(ctx, key, value)
}

func (t *memoryTx) Remove(ctx context.Context, key string) (bool, error) {
	txn, err := t.txnFor(key)
	if err != nil {
		return false, err
	}
	_, existed, err := txn.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return existed, txn.Delete(ctx, key)
}

// take は参加中のトランザクションを取り出して終了状態にする
func (t *memoryTx) take() ([]*node.Txn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.begun {
		return nil, ErrTxNotBegun
	}
	if t.active == nil {
		return nil, ErrTxDone
	}
	txns := make([]*node.Txn, 0, len(t.nodes))
	for _, n := range t.nodes {
		txns = append(txns, t.active[n])
	}
	t.active = nil
	t.nodes = nil
	return txns, nil
}

// Commit はノードごとに順にコミットする。失敗したら残りはロールバックする
func (t *memoryTx) Commit(ctx context.Context) error {
	txns, err := t.take()
	if err != nil {
		return err
	}
	for i, txn := range txns {
		if err := txn.Commit(ctx); err != nil {
			for _, rest := range txns[i+1:] {
				_ = rest.Rollback()
			}
			return fmt.Errorf("commit: %w", err)
		}
	}
	return nil
}

func (t *memoryTx) Rollback(context.Context) error {
	txns, err := t.take()
	if err != nil {
		return err
	}
	var errs []error
	for _, txn := range txns {
		if err := txn.Rollback(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Suspend は参加中の全ノードのトランザクションを一時停止する
func (t *memoryTx) Suspend() error {
	return t.each((*node.Txn).Suspend)
}

// Resume は参加中の全ノードのトランザクションを再開する
func (t *memoryTx) Resume() error {
	return t.each((*node.Txn).Resume)
}

func (t *memoryTx) each(fn func(*node.Txn) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return nil
	}
	var errs []error
	for _, n := range t.nodes {
		if err := fn(t.active[n]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

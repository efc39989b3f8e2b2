package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrTxDone は終了済みトランザクションへの操作で返される
	ErrTxDone = errors.New("transaction already finished")
	// ErrTxSuspended は一時停止中のトランザクションへの操作で返される
	ErrTxSuspended = errors.New("transaction is suspended")
	// ErrConflict は読み取ったキーが他で更新されていた場合に Commit で返される
	ErrConflict = errors.New("transaction conflict")
)

// write はバッファされた書き込み
type write struct {
	value   []byte
	deleted bool
}

// Txn は楽観的トランザクション
type Txn struct {
	node *Node

	mu        sync.Mutex
	done      bool
	suspended bool
	reads     map[string]uint64
	writes    map[string]write
}

// Begin は新しいトランザクションを開始する
func (n *Node) Begin() *Txn {
	return &Txn{
		node:   n,
		reads:  make(map[string]uint64),
		writes: make(map[string]write),
	}
}

func (tx *Txn) check() error {
	if tx.done {
		return ErrTxDone
	}
	if tx.suspended {
		return ErrTxSuspended
	}
	return nil
}

// Get は自身の書き込みを優先して値を読む
func (tx *Txn) Get(ctx context.Context, key string) ([]byte, bool, error) {
	tx.mu.Lock()
	if err := tx.check(); err != nil {
		tx.mu.Unlock()
		return nil, false, err
	}
	if w, ok := tx.writes[key]; ok {
		tx.mu.Unlock()
		return w.value, !w.deleted, nil
	}
	tx.mu.Unlock()

	e, ok, err := tx.node.read(ctx, key)
	if err != nil {
		return nil, false, err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = e.version
	}
	return e.value, ok, nil
}

// Set は書き込みをバッファする
func (tx *Txn) Set(_ context.Context, key string, value []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check(); err != nil {
		return err
	}
	tx.writes[key] = write{value: value}
	return nil
}

// Delete は削除をバッファする
func (tx *Txn) Delete(_ context.Context, key string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check(); err != nil {
		return err
	}
	tx.writes[key] = write{deleted: true}
	return nil
}

// Commit は読み取ったキーが変更されていなければ書き込みを適用する
func (tx *Txn) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check(); err != nil {
		return err
	}
	tx.done = true

	if err := tx.node.applyDelay(ctx); err != nil {
		return err
	}

	n := tx.node
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusRunning {
		return fmt.Errorf("node %s: %w", n.id, ErrNotRunning)
	}
	for key, version := range tx.reads {
		if n.versionLocked(key) != version {
			n.conflicts.Add(1)
			return fmt.Errorf("key %q: %w", key, ErrConflict)
		}
	}
	for key, w := range tx.writes {
		if w.deleted {
			delete(n.data, key)
		} else {
			n.setLocked(key, w.value)
		}
	}
	n.writes.Add(uint64(len(tx.writes)))
	n.commits.Add(1)
	return nil
}

// Rollback はバッファを破棄する
func (tx *Txn) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.suspended = false
	tx.reads = nil
	tx.writes = nil
	return nil
}

// Suspend はトランザクションを一時停止する
func (tx *Txn) Suspend() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.check(); err != nil {
		return err
	}
	tx.suspended = true
	return nil
}

// Resume は一時停止を解除する
func (tx *Txn) Resume() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.suspended = false
	return nil
}

// Done は終了済みかどうかを返す
func (tx *Txn) Done() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.done
}

// Pending はバッファされた書き込み数を返す
func (tx *Txn) Pending() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.writes)
}

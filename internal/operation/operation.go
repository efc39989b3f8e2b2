package operation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrFrozen は凍結後の登録で返される
	ErrFrozen = errors.New("operation registry is frozen")
	// ErrEmptyName は空の名前で返される
	ErrEmptyName = errors.New("operation name must not be empty")
)

// Operation は計測対象アクションの識別子
type Operation struct {
	id   int
	name string
}

// トランザクションのライフサイクル操作（予約ID）
var (
	Begin       = Operation{id: 0, name: "BEGIN"}
	Commit      = Operation{id: 1, name: "COMMIT"}
	Rollback    = Operation{id: 2, name: "ROLLBACK"}
	Transaction = Operation{id: 3, name: "TX"}
)

var reserved = []Operation{Begin, Commit, Rollback, Transaction}

// ID は数値IDを返す
func (o Operation) ID() int {
	return o.id
}

// Name は名前を返す
func (o Operation) Name() string {
	return o.name
}

func (o Operation) String() string {
	return o.name
}

// IsZero は未登録のゼロ値かどうかを返す
func (o Operation) IsZero() bool {
	return o.name == ""
}

// Registry は Operation を発行する
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Operation
	byID   []Operation
	frozen atomic.Bool
}

// NewRegistry はライフサイクル操作を登録済みのレジストリを作成する
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]Operation, len(reserved)),
		byID:   make([]Operation, 0, len(reserved)),
	}
	for _, op := range reserved {
		r.byName[op.name] = op
		r.byID = append(r.byID, op)
	}
	return r
}

// Register は名前に対応する Operation を返す（未登録なら登録する）
func (r *Registry) Register(name string) (Operation, error) {
	if name == "" {
		return Operation{}, ErrEmptyName
	}

	// 凍結後はロックなしで参照できる
	if r.frozen.Load() {
		r.mu.RLock()
		op, ok := r.byName[name]
		r.mu.RUnlock()
		if ok {
			return op, nil
		}
		return Operation{}, fmt.Errorf("register %q: %w", name, ErrFrozen)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if op, ok := r.byName[name]; ok {
		return op, nil
	}
	if r.frozen.Load() {
		return Operation{}, fmt.Errorf("register %q: %w", name, ErrFrozen)
	}

	op := Operation{id: len(r.byID), name: name}
	r.byName[name] = op
	r.byID = append(r.byID, op)
	return op, nil
}

// MustRegister は Register のパニック版
func (r *Registry) MustRegister(name string) Operation {
	op, err := r.Register(name)
	if err != nil {
		panic(err)
	}
	return op
}

// ByName は名前で検索する
func (r *Registry) ByName(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.byName[name]
	return op, ok
}

// ByID はIDで検索する
func (r *Registry) ByID(id int) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.byID) {
		return Operation{}, false
	}
	return r.byID[id], true
}

// All は登録順の全 Operation を返す
func (r *Registry) All() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]Operation, len(r.byID))
	copy(ops, r.byID)
	return ops
}

// Size は登録数を返す
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Freeze はレジストリを読み取り専用にする
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen は凍結済みかどうかを返す
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kvs-bench/internal/cluster"
	"kvs-bench/internal/node"
)

var (
	// ErrNotTransactional はトランザクション非対応のバックエンドで返される
	ErrNotTransactional = errors.New("backend does not support transactions")
	// ErrTxNotBegun は Begin 前のトランザクション操作で返される
	ErrTxNotBegun = errors.New("transaction not begun")
	// ErrTxBegun は2回目の Begin で返される
	ErrTxBegun = errors.New("transaction already begun")
	// ErrTxDone は終了済みトランザクションへの操作で返される
	ErrTxDone = node.ErrTxDone
	// ErrUnknownKind は未知のバックエンド種別で返される
	ErrUnknownKind = errors.New("unknown backend kind")
)

// Cache はキャッシュ操作を定義するインターフェース
type Cache interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) (bool, error)
	Close() error
}

// Tx はトランザクション内のキャッシュ操作
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) (bool, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transactional はトランザクション対応のキャッシュ
type Transactional interface {
	Cache
	NewTx() Tx
}

// Reporter はストア側の状態と操作回数を返せるキャッシュ
type Reporter interface {
	Cache
	StoreStats() cluster.Stats
}

// NewTx はトランザクションハンドルを作成する
func NewTx(c Cache) (Tx, error) {
	t, ok := c.(Transactional)
	if !ok {
		return nil, fmt.Errorf("%s: %w", c.Name(), ErrNotTransactional)
	}
	return t.NewTx(), nil
}

// Kind はバックエンドの種別
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
	KindLocal  Kind = "local"
)

// Kinds は利用可能な種別を返す
func Kinds() []Kind {
	return []Kind{KindMemory, KindRedis, KindLocal}
}

// Config はバックエンドの設定
type Config struct {
	Kind Kind

	// memory
	Nodes int
	Delay time.Duration

	// redis
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// redis / local
	TTL time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Kind:      KindMemory,
		Nodes:     3,
		Addr:      "localhost:6379",
		KeyPrefix: "kvs-bench:",
	}
}

// Open は設定に従ってバックエンドを作成する
func Open(ctx context.Context, config Config) (Cache, error) {
	switch config.Kind {
	case KindMemory, "":
		return NewMemory(ctx, config.Nodes, config.Delay)
	case KindRedis:
		return DialRedis(ctx, config)
	case KindLocal:
		return NewLocalCache(config.TTL), nil
	default:
		return nil, fmt.Errorf("%q: %w", config.Kind, ErrUnknownKind)
	}
}

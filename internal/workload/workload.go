package workload

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"kvs-bench/internal/backend"
	"kvs-bench/internal/operation"
	"kvs-bench/internal/selector"
	"kvs-bench/internal/stressor"
)

var (
	// ErrUnknownStep は未知の非同期ステップ名で返される
	ErrUnknownStep = errors.New("unknown async step")
	// ErrNoConversations は全てのレートが0の場合に返される
	ErrNoConversations = errors.New("workload has no conversations")
)

// Kind はリクエストの種類
type Kind int

const (
	KindGet Kind = iota
	KindPut
	KindRemove
)

var kindNames = [...]string{"GET", "PUT", "REMOVE"}

// AsyncOperation は非同期会話全体を記録する操作名
const AsyncOperation = "ASYNC"

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// ParseKind は名前から Kind を返す
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if strings.EqualFold(n, name) {
			return Kind(i), true
		}
	}
	return 0, false
}

// Config はワークロードの設定
type Config struct {
	KeyRange  int // キーの範囲（0〜KeyRange-1）
	ValueSize int // 値のサイズ（バイト）

	Window     time.Duration // レートの単位時間
	GetRate    int           // Window あたりの GET 会話数
	PutRate    int
	RemoveRate int

	TxRate          int  // Window あたりのトランザクション会話数
	TransactionSize int  // 1トランザクションのリクエスト数
	Commit          bool // false ならロールバックで終える

	AsyncRate         int      // Window あたりの非同期会話数
	AsyncSteps        []string // get, put, remove, pause
	AsyncTransactions bool
	Pause             time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		KeyRange:        10000,
		ValueSize:       100,
		Window:          10 * time.Millisecond,
		GetRate:         50,
		PutRate:         40,
		RemoveRate:      10,
		TransactionSize: 5,
		Commit:          true,
		AsyncSteps:      []string{"get", "put"},
		Pause:           time.Millisecond,
	}
}

// ops は Kind ごとの操作
type ops struct {
	plain operation.Operation
	tx    operation.Operation
}

// Workload はバックエンドに対する会話を生成する
type Workload struct {
	config Config
	cache  backend.Cache
	ops    [3]ops
	async  operation.Operation
	steps  []asyncStep
}

// New はワークロードを作成し、操作をレジストリに登録する
func New(cache backend.Cache, registry *operation.Registry, config Config) (*Workload, error) {
	if config.KeyRange <= 0 {
		config.KeyRange = 1
	}
	if (config.TxRate > 0 || (config.AsyncRate > 0 && config.AsyncTransactions)) && !isTransactional(cache) {
		return nil, fmt.Errorf("%s: %w", cache.Name(), backend.ErrNotTransactional)
	}

	w := &Workload{config: config, cache: cache}
	for i, name := range kindNames {
		plain, err := registry.Register(name)
		if err != nil {
			return nil, err
		}
		tx, err := registry.Register("TX_" + name)
		if err != nil {
			return nil, err
		}
		w.ops[i] = ops{plain: plain, tx: tx}
	}

	if config.AsyncRate > 0 {
		async, err := registry.Register(AsyncOperation)
		if err != nil {
			return nil, err
		}
		w.async = async
		for _, name := range config.AsyncSteps {
			step, err := parseStep(name)
			if err != nil {
				return nil, err
			}
			w.steps = append(w.steps, step)
		}
		if len(w.steps) == 0 {
			return nil, fmt.Errorf("async: %w", stressor.ErrEmptyConversation)
		}
	}
	return w, nil
}

func isTransactional(c backend.Cache) bool {
	_, ok := c.(backend.Transactional)
	return ok
}

// Config は設定を返す
func (w *Workload) Config() Config {
	return w.config
}

// Operation は Kind のトランザクション外の操作を返す
func (w *Workload) Operation(k Kind) operation.Operation {
	return w.ops[k].plain
}

// TxOperation は Kind のトランザクション内の操作を返す
func (w *Workload) TxOperation(k Kind) operation.Operation {
	return w.ops[k].tx
}

// Key はランダムなキーを返す
func (w *Workload) Key() string {
	return fmt.Sprintf("key-%d", rand.IntN(w.config.KeyRange))
}

// Value はランダムな値を返す
func (w *Workload) Value() []byte {
	value := make([]byte, w.config.ValueSize)
	_, _ = cryptorand.Read(value)
	return value
}

// Invocation は Kind の呼び出しを返す（tx が nil ならトランザクション外）
func (w *Workload) Invocation(k Kind, tx backend.Tx) stressor.Invocation {
	return &invocation{w: w, kind: k, tx: tx}
}

// store は Cache と Tx に共通の操作
type store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) (bool, error)
}

type invocation struct {
	w    *Workload
	kind Kind
	tx   backend.Tx
}

func (i *invocation) Invoke(ctx context.Context) (any, error) {
	var s store = i.w.cache
	if i.tx != nil {
		s = i.tx
	}
	key := i.w.Key()
	switch i.kind {
	case KindGet:
		v, _, err := s.Get(ctx, key)
		return v, err
	case KindPut:
		return nil, s.Put(ctx, key, i.w.Value())
	default:
		return s.Remove(ctx, key)
	}
}

func (i *invocation) Operation() operation.Operation {
	return i.w.ops[i.kind].plain
}

func (i *invocation) TxOperation() operation.Operation {
	return i.w.ops[i.kind].tx
}

// Selector は設定されたレートで会話を選ぶセレクタを作成する
func (w *Workload) Selector(c clock.Clock) (*selector.Selector[stressor.Conversation], error) {
	b := selector.NewBuilder[stressor.Conversation](selector.WithClock(c))
	window := w.config.Window

	b.Add(w.Request(KindGet), w.config.GetRate, window)
	b.Add(w.Request(KindPut), w.config.PutRate, window)
	b.Add(w.Request(KindRemove), w.config.RemoveRate, window)
	if w.config.TxRate > 0 {
		b.Add(w.Transaction(), w.config.TxRate, window)
	}
	if w.config.AsyncRate > 0 {
		b.Add(w.Composed(), w.config.AsyncRate, window)
	}

	sel, err := b.Build()
	if errors.Is(err, selector.ErrNoItems) {
		return nil, ErrNoConversations
	}
	return sel, err
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis は Redis サーバーのバックエンド
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var (
	_ Transactional = (*Redis)(nil)
	_ Tx            = (*redisTx)(nil)
)

// DialRedis は Redis に接続して疎通を確認する
func DialRedis(ctx context.Context, config Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", config.Addr, err)
	}
	return NewRedis(client, config.KeyPrefix, config.TTL), nil
}

// NewRedis は既存のクライアントを使うバックエンドを作成する
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Name はバックエンド名を返す
func (r *Redis) Name() string {
	return string(KindRedis)
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

// Get は値を取得する
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return get(ctx, r.client, r.key(key))
}

func get(ctx context.Context, c redis.Cmdable, key string) ([]byte, bool, error) {
	v, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(v), true, nil
}

// Put は値を書き込む
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.key(key), string(value), r.ttl).Err()
}

// Remove はキーを削除する
func (r *Redis) Remove(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close は接続を閉じる
func (r *Redis) Close() error {
	return r.client.Close()
}

// NewTx はトランザクションハンドルを作成する
func (r *Redis) NewTx() Tx {
	return &redisTx{r: r}
}

// redisTx は書き込みを MULTI/EXEC にキューする
// トランザクション内の読み取りはキューを経由せずサーバーから直接読む
type redisTx struct {
	r *Redis

	mu   sync.Mutex
	pipe redis.Pipeliner
	done bool
}

func (t *redisTx) Begin(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pipe != nil || t.done {
		return ErrTxBegun
	}
	t.pipe = t.r.client.TxPipeline()
	return nil
}

// queue は書き込み可能なパイプラインを返す
func (t *redisTx) queue() (redis.Pipeliner, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxDone
	}
	if t.pipe == nil {
		return nil, ErrTxNotBegun
	}
	return t.pipe, nil
}

func (t *redisTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if _, err := t.queue(); err != nil {
		return nil, false, err
	}
	return t.r.Get(ctx, key)
}

func (t *redisTx) Put(ctx context.Context, key string, value []byte) error {
	pipe, err := t.queue()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pipe.Set(ctx, t.r.key(key), string(value), t.r.ttl)
	return nil
}

func (t *redisTx) Remove(ctx context.Context, key string) (bool, error) {
	pipe, err := t.queue()
	if err != nil {
		return false, err
	}
	n, err := t.r.client.Exists(ctx, t.r.key(key)).Result()
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pipe.Del(ctx, t.r.key(key))
	return n > 0, nil
}

// end はパイプラインを取り出して終了状態にする
func (t *redisTx) end() (redis.Pipeliner, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxDone
	}
	if t.pipe == nil {
		return nil, ErrTxNotBegun
	}
	pipe := t.pipe
	t.pipe = nil
	t.done = true
	return pipe, nil
}

func (t *redisTx) Commit(ctx context.Context) error {
	pipe, err := t.end()
	if err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

func (t *redisTx) Rollback(context.Context) error {
	pipe, err := t.end()
	if err != nil {
		return err
	}
	pipe.Discard()
	return nil
}

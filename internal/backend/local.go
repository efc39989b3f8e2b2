package backend

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// LocalCache はプロセス内TTLキャッシュのバックエンド（トランザクション非対応）
type LocalCache struct {
	cache *cache.Cache
}

var _ Cache = (*LocalCache)(nil)

// NewLocalCache は新しいローカルキャッシュを作成する（ttl <= 0 で期限なし）
func NewLocalCache(ttl time.Duration) *LocalCache {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}
	return &LocalCache{cache: cache.New(expiration, cleanup)}
}

// Name はバックエンド名を返す
func (l *LocalCache) Name() string {
	return string(KindLocal)
}

// Get は値を取得する
func (l *LocalCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

// Put は値を書き込む
func (l *LocalCache) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.cache.SetDefault(key, value)
	return nil
}

// Remove はキーを削除する
func (l *LocalCache) Remove(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, existed := l.cache.Get(key)
	l.cache.Delete(key)
	return existed, nil
}

// Len はキャッシュ内の項目数を返す
func (l *LocalCache) Len() int {
	return l.cache.ItemCount()
}

// Close はキャッシュを空にする
func (l *LocalCache) Close() error {
	l.cache.Flush()
	return nil
}

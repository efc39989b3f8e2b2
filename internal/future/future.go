package future

import (
	"context"
	"errors"
	"sync"
)

// ErrRejected は Executor がジョブを受け付けなかった場合に返される
var ErrRejected = errors.New("executor rejected job")

// Callback は完了時に呼ばれる関数
type Callback[T any] func(value T, err error)

// Future は一度だけ完了する非同期の結果
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	callbacks []Callback[T]
}

// New は未完了の Future を作成する
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed は完了済みの Future を作成する
func Completed[T any](value T, err error) *Future[T] {
	f := New[T]()
	f.Complete(value, err)
	return f
}

// Failed はエラーで完了済みの Future を作成する
func Failed[T any](err error) *Future[T] {
	var zero T
	return Completed(zero, err)
}

// Complete は結果を設定してコールバックを実行する
// 既に完了していた場合は false を返す
func (f *Future[T]) Complete(value T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
	return true
}

// WhenComplete は完了時のコールバックを登録する
// 既に完了していればその場で実行する
func (f *Future[T]) WhenComplete(cb Callback[T]) {
	if value, done, err := f.Listen(cb); done {
		cb(value, err)
	}
}

// Listen はコールバックを登録する
// 既に完了していた場合は登録せずに結果と done=true を返す
func (f *Future[T]) Listen(cb Callback[T]) (value T, done bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.completed {
		return f.value, true, f.err
	}
	f.callbacks = append(f.callbacks, cb)
	return value, false, nil
}

// Done は完了時にクローズされるチャネルを返す
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone は完了しているかどうかを返す
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait は完了を待って結果を返す
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

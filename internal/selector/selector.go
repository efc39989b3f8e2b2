package selector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrNoItems は項目が一つもない状態で Build した場合に返される
	ErrNoItems = errors.New("selector has no items")
	// ErrInvalidWindow はウィンドウ長が正でない場合に返される
	ErrInvalidWindow = errors.New("window length must be positive")
)

// Option はセレクタのオプション
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock は時刻源を差し替える
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// entry はセレクタ内の1項目（SelectorItem）
type entry[T any] struct {
	value       T
	invocations int
	window      time.Duration
	remaining   int
	lastWindow  int64
}

// Builder は Selector を組み立てる
type Builder[T any] struct {
	entries []entry[T]
	opts    options
	err     error
}

// NewBuilder は新しいビルダーを作成する
func NewBuilder[T any](opts ...Option) *Builder[T] {
	b := &Builder[T]{opts: options{clock: clock.New()}}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}

// Add は項目を追加する
// invocations が 0 以下の項目は選ばれないため登録しない
func (b *Builder[T]) Add(value T, invocations int, window time.Duration) *Builder[T] {
	if b.err != nil {
		return b
	}
	if invocations <= 0 {
		return b
	}
	if window <= 0 {
		b.err = fmt.Errorf("%v: window %v: %w", value, window, ErrInvalidWindow)
		return b
	}

	b.entries = append(b.entries, entry[T]{
		value:       value,
		invocations: invocations,
		window:      window,
		lastWindow:  -1,
	})
	return b
}

// AddMillis はミリ秒指定の Add
func (b *Builder[T]) AddMillis(value T, invocations int, windowMillis int64) *Builder[T] {
	return b.Add(value, invocations, time.Duration(windowMillis)*time.Millisecond)
}

// Build は現在時刻を起点としてセレクタを作成する
func (b *Builder[T]) Build() (*Selector[T], error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.entries) == 0 {
		return nil, ErrNoItems
	}

	entries := make([]entry[T], len(b.entries))
	copy(entries, b.entries)

	return &Selector[T]{
		clock:   b.opts.clock,
		t0:      b.opts.clock.Now(),
		entries: entries,
	}, nil
}

// Selector はウィンドウごとの呼び出し回数を守って項目を返す
type Selector[T any] struct {
	clock clock.Clock
	t0    time.Time

	mu      sync.Mutex
	entries []entry[T]
	offset  int
	waiting int
}

// Next は次の項目を返す
// 割り当てが残っていなければ次のウィンドウ境界までブロックする
func (s *Selector[T]) Next(ctx context.Context) (T, error) {
	var zero T

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		s.mu.Lock()
		now := s.clock.Now()
		s.refill(now)
		if v, ok := s.pick(); ok {
			s.mu.Unlock()
			return v, nil
		}

		// タイマーはロック内で作成する（待機中の判定と時刻の整合のため）
		timer := s.clock.Timer(s.untilBoundary(now))
		s.waiting++
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			timer.Stop()
			s.leave()
			return zero, ctx.Err()
		case <-timer.C:
			s.leave()
		}
	}
}

// TryNext はブロックしない Next
func (s *Selector[T]) TryNext() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refill(s.clock.Now())
	return s.pick()
}

// Waiting はブロック中の呼び出し数を返す
func (s *Selector[T]) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Len は項目数を返す
func (s *Selector[T]) Len() int {
	return len(s.entries)
}

// Start は起点時刻を返す
func (s *Selector[T]) Start() time.Time {
	return s.t0
}

func (s *Selector[T]) leave() {
	s.mu.Lock()
	s.waiting--
	s.mu.Unlock()
}

// refill はウィンドウ境界を越えた項目の残数をリセットする
func (s *Selector[T]) refill(now time.Time) {
	elapsed := now.Sub(s.t0)
	for i := range s.entries {
		e := &s.entries[i]
		idx := windowIndex(elapsed, e.window)
		if idx != e.lastWindow {
			e.remaining = e.invocations
			e.lastWindow = idx
		}
	}
}

// pick は残数のある項目を一つ取り出す
func (s *Selector[T]) pick() (T, bool) {
	n := len(s.entries)
	for i := range n {
		j := (s.offset + i) % n
		e := &s.entries[j]
		if e.remaining > 0 {
			e.remaining--
			s.offset = (s.offset + 1) % n
			return e.value, true
		}
	}
	var zero T
	return zero, false
}

// untilBoundary は最も近いウィンドウ境界までの時間を返す
func (s *Selector[T]) untilBoundary(now time.Time) time.Duration {
	elapsed := now.Sub(s.t0)
	wait := time.Duration(-1)
	for i := range s.entries {
		w := s.entries[i].window
		next := time.Duration(windowIndex(elapsed, w)+1)*w - elapsed
		if wait < 0 || next < wait {
			wait = next
		}
	}
	return wait
}

// windowIndex は floor(elapsed / window) を返す
func windowIndex(elapsed, window time.Duration) int64 {
	idx := int64(elapsed / window)
	if elapsed < 0 && elapsed%window != 0 {
		idx--
	}
	return idx
}

package stressor

import (
	"sync"
	"sync/atomic"
	"time"

	"kvs-bench/internal/logger"
	"kvs-bench/internal/stats"
)

// Phase はストレッサー間で共有する計測フェーズ
//
// 統計の作成・開始と終了・記録は、観測したストレッサーの数によらず
// 定常状態の切り替わりごとに1回だけ行われる。実行中の会話は読み取り
// ロックを保持するため、終了処理は同期的な会話の完了を待つ。
// 非同期会話は window に登録され、終了処理は drain の間だけその完了を
// 待ったあと window を閉じる。閉じた後の記録は捨てられる。
type Phase struct {
	active  atomic.Bool
	mu      sync.RWMutex
	current *window
	drain   time.Duration

	members     atomic.Int32
	activations atomic.Uint64
	dropped     atomic.Uint64
}

// NewPhase は新しい Phase を作成する
func NewPhase() *Phase {
	return &Phase{}
}

// SetDrainTimeout は終了時に非同期会話の完了を待つ最大時間を設定する
// 0 なら待たずに閉じる
func (p *Phase) SetDrainTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drain = d
}

// Observe はテストの定常状態を観測し、必要ならフェーズを切り替える
// 読み取りロックを保持したまま呼んではならない
func (p *Phase) Observe(test RunningTest) bool {
	steady := test.IsSteadyState()
	if steady == p.active.Load() {
		return steady
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// ロック取得までに他のストレッサーが切り替えている可能性がある
	steady = test.IsSteadyState()
	switch {
	case steady && p.current == nil:
		s := test.CreateStatistics()
		s.Begin()
		p.current = newWindow(s, &p.dropped)
		p.activations.Add(1)
	case !steady && p.current != nil:
		p.retireLocked(test)
	}
	p.active.Store(p.current != nil)
	return steady
}

// Acquire は現在の統計を固定して返す（ランプアップ中は nil）
// 返された release を呼ぶまでフェーズは終了しない
func (p *Phase) Acquire() (stats.Statistics, func()) {
	w, release := p.acquire()
	return w.statistics(), release
}

func (p *Phase) acquire() (*window, func()) {
	p.mu.RLock()
	return p.current, p.mu.RUnlock
}

// Retire は定常状態に関係なく現在の統計を終了して記録する
func (p *Phase) Retire(test RunningTest) {
	if !p.active.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.retireLocked(test)
	}
	p.active.Store(false)
}

// Active は計測中かどうかを返す
func (p *Phase) Active() bool {
	return p.active.Load()
}

// Activations はこれまでに開始した計測フェーズの数を返す
func (p *Phase) Activations() uint64 {
	return p.activations.Load()
}

// Members は実行中のストレッサー数を返す
func (p *Phase) Members() int {
	return int(p.members.Load())
}

// Dropped はフェーズ終了後に届いて捨てた記録の数を返す
func (p *Phase) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Phase) retireLocked(test RunningTest) {
	w := p.current
	p.current = nil
	if n := w.seal(p.drain); n > 0 {
		logger.Warn("phase", "Closed statistics with %d async conversations in flight", n)
	}
	w.stats.End()
	test.RecordStatistics(w.stats)
}

func (p *Phase) join() {
	p.members.Add(1)
}

// leave は最後のストレッサーが抜けた時に計測中の統計を終了する
func (p *Phase) leave(test RunningTest) {
	if p.members.Add(-1) == 0 {
		p.Retire(test)
	}
}

// window は1回の計測フェーズで統計に記録できる期間
type window struct {
	stats   stats.Statistics
	dropped *atomic.Uint64

	// 記録中は読み取りロックを保持する
	rec    sync.RWMutex
	closed bool

	mu       sync.Mutex
	inflight int
	idle     chan struct{}
}

func newWindow(s stats.Statistics, dropped *atomic.Uint64) *window {
	return &window{stats: s, dropped: dropped}
}

func (w *window) statistics() stats.Statistics {
	if w == nil {
		return nil
	}
	return w.stats
}

// hold は非同期会話の開始を登録する
func (w *window) hold() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight++
}

// release は非同期会話の終了を登録する
func (w *window) release() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight--
	if w.inflight == 0 && w.idle != nil {
		close(w.idle)
		w.idle = nil
	}
}

// record は閉じる前なら fn を実行する。閉じた後は捨てて false を返す
// fn の中から record を呼んではならない
func (w *window) record(fn func() error) (bool, error) {
	if w == nil {
		return true, fn()
	}
	w.rec.RLock()
	defer w.rec.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false, nil
	}
	return true, fn()
}

// seal は最大 drain の間だけ非同期会話の終了を待ってから閉じ、
// 残っていた会話の数を返す
func (w *window) seal(drain time.Duration) int {
	w.mu.Lock()
	var idle chan struct{}
	if w.inflight > 0 && drain > 0 {
		if w.idle == nil {
			w.idle = make(chan struct{})
		}
		idle = w.idle
	}
	w.mu.Unlock()

	if idle != nil {
		timer := time.NewTimer(drain)
		select {
		case <-idle:
		case <-timer.C:
		}
		timer.Stop()
	}

	w.rec.Lock()
	w.closed = true
	w.rec.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflight
}

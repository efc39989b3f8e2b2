package testrun

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"kvs-bench/internal/events"
	"kvs-bench/internal/logger"
	"kvs-bench/internal/selector"
	"kvs-bench/internal/stats"
	"kvs-bench/internal/stressor"
)

var (
	// ErrNoSelector は Start 前に UpdateSelector されていない場合に返される
	ErrNoSelector = errors.New("no conversation selector")
	// ErrAlreadyStarted は2回目の Start で返される
	ErrAlreadyStarted = errors.New("test already started")
)

// DefaultDrainTimeout は定常状態の終了時に非同期会話の完了を待つ上限
const DefaultDrainTimeout = 5 * time.Second

// Config はテスト実行の設定
type Config struct {
	Stressors                int             // 起動時のストレッサー数
	MinWaitingStressors      int             // 待機中がこれ以下になると追加する（0で追加しない）
	MaxStressors             int             // ストレッサー数の上限
	MinStressorCreationDelay time.Duration   // 追加の最小間隔
	Stressor                 stressor.Config // 各ストレッサーの設定
	Statistics               stats.Factory   // 定常状態ごとの統計
	DrainTimeout             time.Duration   // 統計の終了前に非同期会話を待つ上限（0で待たない）
	Clock                    clock.Clock     // 時刻源（nilで実時間）
	Events                   *events.Bus     // イベント通知先（任意）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Stressors:    10,
		Stressor:     stressor.DefaultConfig(),
		Statistics:   stats.NewFactory(stats.DefaultConfig()),
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Test は実行中の負荷テスト
type Test struct {
	config Config
	clock  clock.Clock
	phase  *stressor.Phase
	bus    *events.Bus

	steady     atomic.Bool
	finished   atomic.Bool
	terminated atomic.Bool
	reachedMax atomic.Bool
	selector   atomic.Pointer[poolingSelector]

	counter     atomic.Int32 // 採番済みのストレッサー数
	waiting     atomic.Int32 // 次の会話を待っているストレッサー数
	lastCreated atomic.Int64
	created     atomic.Int32 // 作成した統計の数

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stressors     []*stressor.Stressor
	errs          []error
	recorded      []stats.Statistics
	recordedCh    chan struct{}
	stopListeners []func()
	stopOnce      sync.Once
}

// Ensure Test implements stressor.RunningTest
var _ stressor.RunningTest = (*Test)(nil)

// New は新しいテストを作成する
func New(config Config) *Test {
	if config.MaxStressors < config.Stressors {
		config.MaxStressors = config.Stressors
	}
	if config.Statistics == nil {
		config.Statistics = stats.NewFactory(stats.DefaultConfig())
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	phase := stressor.NewPhase()
	phase.SetDrainTimeout(config.DrainTimeout)
	t := &Test{
		config:     config,
		clock:      clk,
		phase:      phase,
		bus:        config.Events,
		recordedCh: make(chan struct{}, 1),
	}
	t.lastCreated.Store(math.MinInt64)
	return t
}

// IsSteadyState は計測中かどうかを返す
func (t *Test) IsSteadyState() bool {
	return t.steady.Load()
}

// SetSteadyState は計測状態を切り替える
func (t *Test) SetSteadyState(steady bool) {
	if t.steady.Swap(steady) != steady {
		logger.Info("", "Steady state: %v", steady)
	}
}

// IsFinished は終了したかどうかを返す
func (t *Test) IsFinished() bool {
	return t.finished.Load()
}

// IsTerminated は異常終了したかどうかを返す
func (t *Test) IsTerminated() bool {
	return t.terminated.Load()
}

// Terminate はテストを異常終了させる
func (t *Test) Terminate() {
	t.finished.Store(true)
	t.terminated.Store(true)
	t.steady.Store(false)
	t.signalRecorded()
}

// ReachedMax は上限を超えてストレッサーを追加しようとしたかどうかを返す
func (t *Test) ReachedMax() bool {
	return t.reachedMax.Load()
}

// Phase は共有の計測フェーズを返す
func (t *Test) Phase() *stressor.Phase {
	return t.phase
}

// CreateStatistics は新しい統計を作成する
func (t *Test) CreateStatistics() stats.Statistics {
	n := t.created.Add(1)
	t.bus.Publish(events.NewSteadyStateEvent(true, uint64(n)))
	return t.config.Statistics()
}

// RecordStatistics は終了した統計を受け取る
func (t *Test) RecordStatistics(s stats.Statistics) {
	t.mu.Lock()
	t.recorded = append(t.recorded, s)
	n := len(t.recorded)
	t.mu.Unlock()

	operations := 0
	if b, ok := stats.Unwrap(s).(*stats.Basic); ok {
		operations = len(b.Operations())
	}
	t.bus.Publish(events.NewSteadyStateEvent(false, uint64(n)))
	t.bus.Publish(events.NewStatisticsRecordedEvent(uint64(n), operations))
	t.signalRecorded()
}

func (t *Test) signalRecorded() {
	select {
	case t.recordedCh <- struct{}{}:
	default:
	}
}

// Selector は会話のセレクタを返す
func (t *Test) Selector() stressor.ConversationSelector {
	return t.selector.Load()
}

// UpdateSelector はセレクタを差し替える
func (t *Test) UpdateSelector(sel *selector.Selector[stressor.Conversation]) {
	t.selector.Store(newPoolingSelector(t, sel))
}

// AddStopListener は StopStressors 時に呼ばれる関数を登録する
func (t *Test) AddStopListener(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopListeners = append(t.stopListeners, fn)
}

// Start は設定された数のストレッサーを起動する
func (t *Test) Start(ctx context.Context) error {
	if t.selector.Load() == nil {
		return ErrNoSelector
	}

	t.mu.Lock()
	if t.ctx != nil {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	for range t.config.Stressors {
		t.addStressor(true)
	}
	logger.Info("", "Started %d stressors", t.NumStressors())
	return nil
}

// AddStressor はストレッサーを1つ追加する
func (t *Test) AddStressor() bool {
	return t.addStressor(false)
}

func (t *Test) addStressor(failSilently bool) bool {
	index := t.nextIndex()
	if index < 0 {
		if !failSilently {
			t.reachedMax.Store(true)
			logger.Warn("", "Attempt to create more than %d stressors", t.config.MaxStressors)
		}
		return false
	}
	if t.IsSteadyState() && !failSilently {
		logger.Warn("", "Creating new stressor during steady state")
	}

	config := t.config.Stressor
	config.Phase = t.phase
	config.Clock = t.clock
	s := stressor.New(index, t, config)

	// 開始前のストレッサーは待機中として数える
	t.waiting.Add(1)

	t.mu.Lock()
	if t.finished.Load() || t.ctx == nil {
		t.mu.Unlock()
		t.waiting.Add(-1)
		return false
	}
	t.stressors = append(t.stressors, s)
	total := len(t.stressors)
	ctx := t.ctx
	t.wg.Add(1)
	t.mu.Unlock()

	logger.Debug("", "Created stressor %s", s.ID())
	t.bus.Publish(events.NewStressorAddedEvent(s.ID(), total))
	go t.run(ctx, s)
	return true
}

func (t *Test) nextIndex() int {
	for {
		n := t.counter.Load()
		if int(n) >= t.config.MaxStressors {
			t.reachedMax.Store(true)
			return -1
		}
		if t.counter.CompareAndSwap(n, n+1) {
			return int(n)
		}
	}
}

func (t *Test) run(ctx context.Context, s *stressor.Stressor) {
	defer t.wg.Done()

	if err := s.Run(ctx); err != nil {
		t.mu.Lock()
		t.errs = append(t.errs, err)
		t.mu.Unlock()

		logger.Error(s.ID(), "Stressor failed, terminating test: %v", err)
		t.bus.Publish(events.NewStressorFailedEvent(s.ID(), err))
		t.Terminate()
	}
}

// StopStressors は全ストレッサーを停止して終了を待つ
func (t *Test) StopStressors() {
	t.finished.Store(true)
	t.steady.Store(false)

	t.mu.Lock()
	cancel := t.cancel
	listeners := make([]func(), len(t.stopListeners))
	copy(listeners, t.stopListeners)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	// 全員抜けた後に残った計測フェーズを閉じる
	t.phase.Retire(t)

	t.stopOnce.Do(func() {
		for _, fn := range listeners {
			fn()
		}
		logger.Info("", "Stopped %d stressors", t.NumStressors())
		t.bus.Publish(events.NewTestFinishedEvent(t.NumStressors(), t.IsTerminated()))
	})
}

// Statistics はストレッサーを停止し、記録された全統計を返す
// 返した統計は内部から取り除かれる
func (t *Test) Statistics(ctx context.Context) ([]stats.Statistics, error) {
	t.StopStressors()

	for {
		t.mu.Lock()
		if t.IsTerminated() || len(t.recorded) >= int(t.created.Load()) {
			recorded := t.recorded
			t.recorded = nil
			t.created.Store(0)
			t.mu.Unlock()
			return recorded, nil
		}
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.recordedCh:
		}
	}
}

// NumStressors は起動したストレッサー数を返す
func (t *Test) NumStressors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stressors)
}

// Waiting は次の会話を待っているストレッサー数を返す
func (t *Test) Waiting() int {
	return int(t.waiting.Load())
}

// Errors はストレッサーが返したエラーを返す
func (t *Test) Errors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	errs := make([]error, len(t.errs))
	copy(errs, t.errs)
	return errs
}

// Conversations は全ストレッサーが実行した会話の数を返す
func (t *Test) Conversations() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n uint64
	for _, s := range t.stressors {
		n += s.Conversations()
	}
	return n
}

// Faults は全ストレッサーが記録した障害の数を返す
func (t *Test) Faults() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n uint64
	for _, s := range t.stressors {
		n += s.Faults()
	}
	return n
}

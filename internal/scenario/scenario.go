package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"kvs-bench/internal/backend"
	"kvs-bench/internal/cluster"
	"kvs-bench/internal/events"
	"kvs-bench/internal/logger"
	"kvs-bench/internal/metrics"
	"kvs-bench/internal/operation"
	"kvs-bench/internal/stats"
	"kvs-bench/internal/stressor"
	"kvs-bench/internal/testrun"
	"kvs-bench/internal/worker"
	"kvs-bench/internal/workload"
)

// ErrAlreadyRunning は実行中のエンジンの Run で返される
var ErrAlreadyRunning = errors.New("scenario is already running")

// collectTimeout は停止後に統計の記録を待つ上限
const collectTimeout = 10 * time.Second

// Config はシナリオの設定
type Config struct {
	Name        string        // シナリオ名
	Description string        // 説明
	RampUp      time.Duration // 計測前の負荷時間
	Duration    time.Duration // 1回の定常状態の長さ
	Iterations  int           // 定常状態の回数

	// ストレッサー設定
	Stressors                int
	MinWaitingStressors      int
	MaxStressors             int
	MinStressorCreationDelay time.Duration
	ThinkTime                time.Duration
	ExitOnFailure            bool
	LogTransactionErrors     bool
	ExecutorWorkers          int           // 0 なら非同期会話があるときだけCPU数
	DrainTimeout             time.Duration // 定常状態の終了時に非同期会話を待つ上限

	Backend  backend.Config
	Workload workload.Config
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:                 "default",
		Description:          "Default scenario",
		RampUp:               time.Second,
		Duration:             5 * time.Second,
		Iterations:           1,
		Stressors:            10,
		LogTransactionErrors: true,
		DrainTimeout:         testrun.DefaultDrainTimeout,
		Backend:              backend.DefaultConfig(),
		Workload:             workload.DefaultConfig(),
	}
}

// Result はシナリオ実行結果
type Result struct {
	RunID        string
	ScenarioName string
	Backend      string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration

	// 計測
	Phases          int
	Measured        time.Duration
	TotalRequests   uint64
	SuccessRequests uint64
	FailedRequests  uint64
	ErrorRate       float64
	Operations      []stats.OperationSnapshot

	// ストレッサー
	Stressors     int
	Conversations uint64
	Faults        uint64
	Dropped       uint64 // 定常状態の終了後に届いて捨てた非同期記録
	Terminated    bool
	Errors        []string

	// ストア（インメモリバックエンドのみ）
	Store *cluster.Stats
}

// Status はエンジンの現在の状態
type Status struct {
	Running       bool   `json:"running"`
	Scenario      string `json:"scenario"`
	RunID         string `json:"run_id,omitempty"`
	SteadyState   bool   `json:"steady_state"`
	Phase         uint64 `json:"phase"`
	Stressors     int    `json:"stressors"`
	Waiting       int    `json:"waiting"`
	Conversations uint64 `json:"conversations"`
	Faults        uint64 `json:"faults"`

	Store *cluster.Stats `json:"store,omitempty"`
}

// Engine はシナリオ実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	running bool
	runID   string
	test    *testrun.Test
	store   backend.Reporter
	last    *Result
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetMetrics はメトリクスを設定する
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Config は設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Run はシナリオを実行する
// ctx がキャンセルされた場合はそこまでの結果を返す
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.runID = ksuid.New().String()
	result := &Result{
		RunID:        e.runID,
		ScenarioName: e.config.Name,
		Backend:      string(e.config.Backend.Kind),
		StartTime:    time.Now(),
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	logger.Info("", "=== Scenario '%s' started (run %s) ===", e.config.Name, result.RunID)
	logger.Info("", "Description: %s", e.config.Description)

	// バックエンドと Executor は ctx ではなく Close/Stop で止める
	lifetime := context.WithoutCancel(ctx)
	cache, err := backend.Open(lifetime, e.config.Backend)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	defer cache.Close()
	result.Backend = cache.Name()
	store, _ := cache.(backend.Reporter)

	registry := operation.NewRegistry()
	w, err := workload.New(cache, registry, e.config.Workload)
	if err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}
	registry.Freeze()

	sel, err := w.Selector(clock.New())
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	var pool *worker.Pool
	if e.config.ExecutorWorkers > 0 || e.config.Workload.AsyncRate > 0 {
		pool = worker.NewPool(e.config.ExecutorWorkers)
		pool.Start(lifetime)
		defer pool.Stop()
	}

	bus := e.eventBus
	if bus == nil && e.metrics != nil {
		bus = events.NewBus()
	}

	// イベントをメトリクスに反映する
	g := new(errgroup.Group)
	if e.metrics != nil {
		ch := bus.Subscribe()
		g.Go(func() error {
			e.metrics.Watch(context.Background(), ch)
			return nil
		})
		defer func() {
			bus.Unsubscribe(ch)
			_ = g.Wait()
		}()
	}

	test := testrun.New(e.testConfig(pool, bus))
	test.UpdateSelector(sel)
	if err := test.Start(ctx); err != nil {
		return nil, fmt.Errorf("start stressors: %w", err)
	}

	e.mu.Lock()
	e.test = test
	e.store = store
	e.mu.Unlock()

	e.drive(ctx, test)

	collectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), collectTimeout)
	defer cancel()
	recorded, err := test.Statistics(collectCtx)
	if err != nil {
		return nil, fmt.Errorf("collect statistics: %w", err)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	collectResults(result, test, recorded)
	if store != nil {
		st := store.StoreStats()
		result.Store = &st
	}

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	logger.Info("", "=== Scenario '%s' completed ===", e.config.Name)
	return result, nil
}

func (e *Engine) testConfig(pool *worker.Pool, bus *events.Bus) testrun.Config {
	sc := stressor.DefaultConfig()
	sc.LogTransactionErrors = e.config.LogTransactionErrors
	sc.ExitOnFailure = e.config.ExitOnFailure
	sc.ThinkTime = e.config.ThinkTime
	if pool != nil {
		sc.Executor = pool
	}

	factory := stats.NewFactory(stats.DefaultConfig())
	if e.metrics != nil {
		factory = e.metrics.InstrumentFactory(factory)
	}

	return testrun.Config{
		Stressors:                e.config.Stressors,
		MinWaitingStressors:      e.config.MinWaitingStressors,
		MaxStressors:             e.config.MaxStressors,
		MinStressorCreationDelay: e.config.MinStressorCreationDelay,
		Stressor:                 sc,
		Statistics:               factory,
		DrainTimeout:             e.config.DrainTimeout,
		Events:                   bus,
	}
}

// drive はランプアップと定常状態を順に進める
func (e *Engine) drive(ctx context.Context, test *testrun.Test) {
	if !sleep(ctx, e.config.RampUp) || test.IsFinished() {
		return
	}

	iterations := max(e.config.Iterations, 1)
	for i := range iterations {
		logger.Info("", "Steady state %d/%d started", i+1, iterations)
		test.SetSteadyState(true)
		ok := sleep(ctx, e.config.Duration)
		test.SetSteadyState(false)
		if !ok || test.IsFinished() {
			logger.Info("", "Scenario interrupted, stopping stressors...")
			return
		}
		// 次の定常状態の前に今のフェーズが閉じるのを待つ
		if !waitRetired(ctx, test) {
			return
		}
	}
	logger.Info("", "Scenario duration completed, stopping stressors...")
}

// sleep は d だけ待つ。ctx が先に終われば false を返す
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// waitRetired は現在のフェーズが記録されるまで待つ
func waitRetired(ctx context.Context, test *testrun.Test) bool {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for test.Phase().Active() {
		if test.IsFinished() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

// collectResults は記録された統計を結果にまとめる
func collectResults(result *Result, test *testrun.Test, recorded []stats.Statistics) {
	result.Phases = len(recorded)
	result.Stressors = test.NumStressors()
	result.Conversations = test.Conversations()
	result.Faults = test.Faults()
	result.Dropped = test.Phase().Dropped()
	result.Terminated = test.IsTerminated()
	for _, err := range test.Errors() {
		result.Errors = append(result.Errors, err.Error())
	}

	total := stats.New()
	for _, s := range recorded {
		b, ok := stats.Unwrap(s).(*stats.Basic)
		if !ok {
			logger.Warn("", "Skipping statistics of type %T", s)
			continue
		}
		result.Measured += b.Duration()
		if err := total.Merge(b); err != nil {
			logger.Warn("", "Failed to merge statistics: %v", err)
		}
	}

	snap := total.Snapshot()
	result.Operations = snap.Operations
	for _, op := range snap.Operations {
		// ライフサイクル操作と集約操作は二重に数えない
		if isAggregate(op.Operation) {
			continue
		}
		result.TotalRequests += op.Requests
		result.FailedRequests += op.Errors
	}
	result.SuccessRequests = result.TotalRequests - result.FailedRequests
	if result.TotalRequests > 0 {
		result.ErrorRate = float64(result.FailedRequests) / float64(result.TotalRequests)
	}
}

func isAggregate(name string) bool {
	switch name {
	case operation.Begin.Name(), operation.Commit.Name(), operation.Rollback.Name(),
		operation.Transaction.Name(), workload.AsyncOperation:
		return true
	}
	return false
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, `
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Run ID:         %s
  Backend:        %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Measured:       %v (%d phases)

STRESSORS
---------
  Stressors:      %d
  Conversations:  %d
  Faults:         %d
  Late Records:   %d
  Terminated:     %t

TRAFFIC METRICS
---------------
  Total Requests:   %d
  Success:          %d
  Failed:           %d
  Error Rate:       %.2f%%

OPERATIONS
----------
`,
		r.ScenarioName,
		r.RunID,
		r.Backend,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Measured.Round(time.Millisecond),
		r.Phases,
		r.Stressors,
		r.Conversations,
		r.Faults,
		r.Dropped,
		r.Terminated,
		r.TotalRequests,
		r.SuccessRequests,
		r.FailedRequests,
		r.ErrorRate*100,
	)

	fmt.Fprintf(&b, "  %-12s %10s %8s %12s %12s %12s %10s\n",
		"OPERATION", "REQUESTS", "ERRORS", "MEAN", "P99", "MAX", "OPS/S")
	for _, op := range r.Operations {
		fmt.Fprintf(&b, "  %-12s %10d %8d %12v %12v %12v %10.1f\n",
			op.Operation, op.Requests, op.Errors,
			op.Mean.Round(time.Microsecond),
			op.P99.Round(time.Microsecond),
			op.Max.Round(time.Microsecond),
			op.Throughput)
	}

	if r.Store != nil {
		fmt.Fprintf(&b, `
STORE
-----
  Nodes:          %d (%d running)
  Keys:           %d
  Reads:          %d
  Writes:         %d
  Commits:        %d
  Conflicts:      %d
`,
			r.Store.Nodes, r.Store.Running, r.Store.Keys,
			r.Store.Reads, r.Store.Writes, r.Store.Commits, r.Store.Conflicts)
	}

	if len(r.Errors) > 0 {
		b.WriteString("\nERRORS\n------\n")
		for _, err := range r.Errors {
			fmt.Fprintf(&b, "  %s\n", err)
		}
	}

	b.WriteString("\n================================================================================")
	return b.String()
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Status は現在の状態を返す
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{
		Running:  e.running,
		Scenario: e.config.Name,
		RunID:    e.runID,
	}
	if e.test != nil {
		s.SteadyState = e.test.IsSteadyState()
		s.Phase = e.test.Phase().Activations()
		s.Stressors = e.test.NumStressors()
		s.Waiting = e.test.Waiting()
		s.Conversations = e.test.Conversations()
		s.Faults = e.test.Faults()
	}
	if e.store != nil {
		st := e.store.StoreStats()
		s.Store = &st
	}
	return s
}

// LastResult は直近の実行結果を返す（未実行なら nil）
func (e *Engine) LastResult() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"kvs-bench/internal/operation"
)

// Config は Basic の設定
type Config struct {
	MaxLatencySamples int         // P99計算用のサンプル上限
	Clock             clock.Clock // 時刻源（nilで実時間）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		MaxLatencySamples: 1000,
	}
}

// Basic は操作ごとの統計を固定メモリで保持する
type Basic struct {
	config Config
	clock  clock.Clock

	mu    sync.RWMutex
	begun bool
	ended bool
	start time.Time
	end   time.Time
	ops   map[operation.Operation]*OperationStats
}

// Ensure Basic implements Statistics
var _ Statistics = (*Basic)(nil)

// New は新しい Basic を作成する
func New() *Basic {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定して Basic を作成する
func NewWithConfig(config Config) *Basic {
	if config.MaxLatencySamples <= 0 {
		config.MaxLatencySamples = 1000
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Basic{
		config: config,
		clock:  clk,
		ops:    make(map[operation.Operation]*OperationStats),
	}
}

// NewFactory は同じ設定で Basic を生成する Factory を返す
func NewFactory(config Config) Factory {
	return func() Statistics {
		return NewWithConfig(config)
	}
}

// Begin は計測を開始する
func (b *Basic) Begin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.begun = true
	b.start = b.clock.Now()
}

// End は計測を終了する
func (b *Basic) End() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
	b.end = b.clock.Now()
}

// Clock は時刻源を返す
func (b *Basic) Clock() clock.Clock {
	return b.clock
}

// StartRequest はリクエストを開始する
func (b *Basic) StartRequest() *Request {
	return NewRequest(b, b.clock)
}

// RequestSet はリクエストセットを作成する
func (b *Basic) RequestSet() *RequestSet {
	return NewRequestSet(b)
}

// RegisterRequest は成功を記録する
func (b *Basic) RegisterRequest(latency time.Duration, op operation.Operation) error {
	s, err := b.operationStats(op)
	if err != nil {
		return err
	}
	s.record(latency, false)
	return nil
}

// RegisterError は失敗を記録する
func (b *Basic) RegisterError(latency time.Duration, op operation.Operation) error {
	s, err := b.operationStats(op)
	if err != nil {
		return err
	}
	s.record(latency, true)
	return nil
}

// operationStats は操作の統計を取得（なければ作成）する
func (b *Basic) operationStats(op operation.Operation) (*OperationStats, error) {
	b.mu.RLock()
	begun := b.begun
	s, ok := b.ops[op]
	b.mu.RUnlock()

	if !begun {
		return nil, fmt.Errorf("record %s: %w", op, ErrNotBegun)
	}
	if ok {
		return s, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.ops[op]; ok {
		return s, nil
	}
	s = newOperationStats(b.config.MaxLatencySamples)
	b.ops[op] = s
	return s, nil
}

// Copy は複製を返す
func (b *Basic) Copy() Statistics {
	c := NewWithConfig(b.config)
	_ = c.Merge(b)
	return c
}

// Merge は other をこのインスタンスに合算する（other は変更しない）
func (b *Basic) Merge(other Statistics) error {
	o, ok := Unwrap(other).(*Basic)
	if !ok {
		return fmt.Errorf("merge %T: %w", other, ErrIncompatible)
	}
	if o == b {
		return fmt.Errorf("merge into itself: %w", ErrIncompatible)
	}

	o.mu.RLock()
	oBegun, oEnded := o.begun, o.ended
	oStart, oEnd := o.start, o.end
	copies := make(map[operation.Operation]*OperationStats, len(o.ops))
	for op, s := range o.ops {
		copies[op] = s.copy()
	}
	o.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if oBegun {
		if !b.begun || oStart.Before(b.start) {
			b.start = oStart
		}
		b.begun = true
	}
	if oEnded {
		if !b.ended || oEnd.After(b.end) {
			b.end = oEnd
		}
		b.ended = true
	}
	for op, s := range copies {
		if mine, ok := b.ops[op]; ok {
			mine.merge(s)
		} else {
			b.ops[op] = s
		}
	}
	return nil
}

// Operations は記録済みの操作をID順に返す
func (b *Basic) Operations() []operation.Operation {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ops := make([]operation.Operation, 0, len(b.ops))
	for op := range b.ops {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].ID() < ops[j].ID()
	})
	return ops
}

// OperationStats は操作の統計を返す
func (b *Basic) OperationStats(op operation.Operation) (OperationSnapshot, bool) {
	b.mu.RLock()
	s, ok := b.ops[op]
	b.mu.RUnlock()
	if !ok {
		return OperationSnapshot{}, false
	}
	return s.snapshot(op, b.Duration()), true
}

// Duration は計測期間を返す
func (b *Basic) Duration() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.begun {
		return 0
	}
	if !b.ended {
		return b.clock.Since(b.start)
	}
	return b.end.Sub(b.start)
}

// Snapshot は統計のスナップショット
type Snapshot struct {
	Begin      time.Time
	End        time.Time
	Duration   time.Duration
	Operations []OperationSnapshot
}

// Snapshot は現在の統計のスナップショットを返す
func (b *Basic) Snapshot() Snapshot {
	b.mu.RLock()
	start, end := b.start, b.end
	b.mu.RUnlock()

	d := b.Duration()
	snap := Snapshot{Begin: start, End: end, Duration: d}
	for _, op := range b.Operations() {
		b.mu.RLock()
		s := b.ops[op]
		b.mu.RUnlock()
		snap.Operations = append(snap.Operations, s.snapshot(op, d))
	}
	return snap
}

func (b *Basic) String() string {
	snap := b.Snapshot()
	return fmt.Sprintf("Basic{duration=%v, operations=%d}", snap.Duration, len(snap.Operations))
}

// OperationStats は1操作分の統計
type OperationStats struct {
	mu         sync.Mutex
	requests   uint64
	errors     uint64
	max        time.Duration
	sum        time.Duration
	mean       float64 // 一次モーメント(ns)
	m2         float64 // 二次モーメント、分散 = m2 / (n - 1)
	samples    []time.Duration
	maxSamples int
}

func newOperationStats(maxSamples int) *OperationStats {
	return &OperationStats{
		samples:    make([]time.Duration, 0, min(maxSamples, 64)),
		maxSamples: maxSamples,
	}
}

func (s *OperationStats) record(latency time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++
	if failed {
		s.errors++
	}
	if latency > s.max {
		s.max = latency
	}
	s.sum += latency

	// Welford のオンラインアルゴリズム
	x := float64(latency)
	delta := x - s.mean
	s.mean += delta / float64(s.requests)
	s.m2 += delta * (x - s.mean)

	if len(s.samples) < s.maxSamples {
		s.samples = append(s.samples, latency)
	}
}

func (s *OperationStats) copy() *OperationStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &OperationStats{
		requests:   s.requests,
		errors:     s.errors,
		max:        s.max,
		sum:        s.sum,
		mean:       s.mean,
		m2:         s.m2,
		samples:    make([]time.Duration, len(s.samples)),
		maxSamples: s.maxSamples,
	}
	copy(c.samples, s.samples)
	return c
}

func (s *OperationStats) merge(o *OperationStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n1, n2 := float64(s.requests), float64(o.requests)
	if n1+n2 > 0 {
		delta := s.mean - o.mean
		s.m2 = s.m2 + o.m2 + delta*delta*n1*n2/(n1+n2)
		s.mean = (s.mean*n1 + o.mean*n2) / (n1 + n2)
	}
	s.requests += o.requests
	s.errors += o.errors
	s.max = max(s.max, o.max)
	s.sum += o.sum

	for _, l := range o.samples {
		if len(s.samples) >= s.maxSamples {
			break
		}
		s.samples = append(s.samples, l)
	}
}

// OperationSnapshot は1操作分の統計のスナップショット
type OperationSnapshot struct {
	Operation  string
	Requests   uint64
	Errors     uint64
	Mean       time.Duration
	StdDev     time.Duration
	Max        time.Duration
	P99        time.Duration
	Throughput float64 // 成功リクエスト/秒
}

func (s *OperationStats) snapshot(op operation.Operation, d time.Duration) OperationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := OperationSnapshot{
		Operation: op.Name(),
		Requests:  s.requests,
		Errors:    s.errors,
		Mean:      time.Duration(s.mean),
		Max:       s.max,
		P99:       percentile(s.samples, 0.99),
	}
	if s.requests > 1 {
		snap.StdDev = time.Duration(math.Sqrt(s.m2 / float64(s.requests-1)))
	}
	if secs := d.Seconds(); secs > 0 {
		snap.Throughput = float64(s.requests-s.errors) / secs
	}
	return snap
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (o OperationSnapshot) ErrorRate() float64 {
	if o.Requests == 0 {
		return 0
	}
	return float64(o.Errors) / float64(o.Requests)
}

// percentile はサンプルから百分位点を返す
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

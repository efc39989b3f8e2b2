package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"kvs-bench/internal/logger"
)

// Job はワーカーが実行するジョブを表す
type Job func()

// Executor はジョブを非同期に実行する
// Submit が false を返した場合、ジョブは実行されない
type Executor interface {
	Submit(job Job) bool
}

// Ensure Pool implements Executor
var _ Executor = (*Pool)(nil)

// Inline は呼び出し元のゴルーチンでジョブを実行する Executor
type Inline struct{}

// Submit はジョブをその場で実行する
func (Inline) Submit(job Job) bool {
	job()
	return true
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers  int // ワーカー数（0でCPU数）
	QueueFactor int // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  0,   // CPU数
		QueueFactor: 100, // デフォルト倍率
	}
}

// PoolStats はプールの実行回数
type PoolStats struct {
	Submitted uint64
	Executed  uint64
	Rejected  uint64
	Panicked  uint64
}

// Pool はゴルーチンのプールを管理する
type Pool struct {
	numWorkers int
	queueSize  int

	mu      sync.RWMutex // jobs の送信とクローズを排他する
	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup

	submitted atomic.Uint64
	executed  atomic.Uint64
	rejected  atomic.Uint64
	panicked  atomic.Uint64
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  numWorkers * queueFactor,
	}
}

// Start はワーカープールを起動する
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.jobs = make(chan Job, p.queueSize)
	p.started = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.worker(p.ctx, p.jobs)
	}

	logger.Debug("", "WorkerPool started with %d workers", p.numWorkers)
}

// worker はキューが閉じられるまでジョブを実行する
func (p *Pool) worker(ctx context.Context, jobs <-chan Job) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok || ctx.Err() != nil {
				return
			}
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			logger.Error("", "Job panicked: %v", r)
		}
	}()
	job()
	p.executed.Add(1)
}

// Submit はジョブをキューに入れる。停止中やキューが満杯の場合は false を返す
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started || p.ctx.Err() != nil {
		p.rejected.Add(1)
		return false
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// SubmitWait はジョブを送信し、キューに空きがなければブロックする
func (p *Pool) SubmitWait(ctx context.Context, job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		p.rejected.Add(1)
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		p.submitted.Add(1)
		return true
	}
}

// Stop は新しいジョブの受付を止め、キューに残ったジョブの完了を待つ
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()

	logger.Debug("", "WorkerPool stopped")
}

// Abort はキューに残ったジョブを破棄して停止する
func (p *Pool) Abort() {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	p.Stop()
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.jobs)
}

// Stats は実行回数を返す
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted: p.submitted.Load(),
		Executed:  p.executed.Load(),
		Rejected:  p.rejected.Load(),
		Panicked:  p.panicked.Load(),
	}
}

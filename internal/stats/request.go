package stats

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"kvs-bench/internal/operation"
)

// Outcome はリクエストの結果
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Request は1回の計測対象の試行
type Request struct {
	owner Statistics
	clock clock.Clock

	mu          sync.Mutex
	start       time.Time
	responseEnd time.Time
	end         time.Time
	outcome     Outcome
}

// NewRequest は owner に記録するリクエストを開始する
func NewRequest(owner Statistics, clk clock.Clock) *Request {
	return &Request{
		owner: owner,
		clock: clk,
		start: clk.Now(),
	}
}

// Succeeded は成功として記録する
func (r *Request) Succeeded(op operation.Operation) error {
	if r == nil {
		return nil
	}
	d, err := r.terminate(OutcomeSucceeded)
	if err != nil {
		return err
	}
	return r.owner.RegisterRequest(d, op)
}

// Failed は失敗として記録する
func (r *Request) Failed(op operation.Operation) error {
	if r == nil {
		return nil
	}
	d, err := r.terminate(OutcomeFailed)
	if err != nil {
		return err
	}
	return r.owner.RegisterError(d, op)
}

// RequestCompleted は送信側の処理完了を記録する（結果は後で Succeeded/Failed で確定）
func (r *Request) RequestCompleted() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responseEnd.IsZero() {
		r.responseEnd = r.clock.Now()
	}
}

// RequestFailed は送信自体の失敗を記録する（操作には記録しない）
func (r *Request) RequestFailed() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome != OutcomePending {
		return
	}
	now := r.clock.Now()
	r.responseEnd = now
	r.end = now
	r.outcome = OutcomeFailed
}

// Discard は記録せずに破棄する
func (r *Request) Discard() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == OutcomePending {
		r.outcome = OutcomeDiscarded
	}
}

// Outcome は現在の結果を返す
func (r *Request) Outcome() Outcome {
	if r == nil {
		return OutcomeDiscarded
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// IsSuccessful は成功したかどうかを返す
func (r *Request) IsSuccessful() bool {
	return r.Outcome() == OutcomeSucceeded
}

// Duration は所要時間を返す（未終了なら0）
func (r *Request) Duration() time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.end.IsZero() {
		return 0
	}
	return r.end.Sub(r.start)
}

// ResponseTime は RequestCompleted までの時間を返す
func (r *Request) ResponseTime() time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responseEnd.IsZero() {
		return 0
	}
	return r.responseEnd.Sub(r.start)
}

func (r *Request) terminate(outcome Outcome) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outcome != OutcomePending {
		return 0, ErrRequestTerminated
	}
	r.end = r.clock.Now()
	if r.responseEnd.IsZero() {
		r.responseEnd = r.end
	}
	r.outcome = outcome
	return r.end.Sub(r.start), nil
}

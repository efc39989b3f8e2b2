package stats

import (
	"sync"
	"time"

	"kvs-bench/internal/operation"
)

// RequestSet は1つの会話に属するリクエスト群
type RequestSet struct {
	owner Statistics

	mu       sync.Mutex
	requests []*Request
	done     bool
}

// NewRequestSet は owner に記録するリクエストセットを作成する
func NewRequestSet(owner Statistics) *RequestSet {
	return &RequestSet{owner: owner}
}

// Add はリクエストを追加する
func (s *RequestSet) Add(r *Request) {
	if s == nil || r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)
}

// Succeeded は会話全体を成功として記録する
func (s *RequestSet) Succeeded(op operation.Operation) error {
	if s == nil {
		return nil
	}
	d, err := s.finish()
	if err != nil {
		return err
	}
	return s.owner.RegisterRequest(d, op)
}

// Failed は会話全体を失敗として記録する
func (s *RequestSet) Failed(op operation.Operation) error {
	if s == nil {
		return nil
	}
	d, err := s.finish()
	if err != nil {
		return err
	}
	return s.owner.RegisterError(d, op)
}

// Discard は記録せずに破棄する
func (s *RequestSet) Discard() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

// Len はリクエスト数を返す
func (s *RequestSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// IsSuccessful は全リクエストが成功したかどうかを返す
func (s *RequestSet) IsSuccessful() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if !r.IsSuccessful() {
			return false
		}
	}
	return true
}

// SumDurations は所要時間の合計を返す
func (s *RequestSet) SumDurations() time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumLocked()
}

func (s *RequestSet) finish() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return 0, ErrRequestTerminated
	}
	s.done = true
	return s.sumLocked(), nil
}

func (s *RequestSet) sumLocked() time.Duration {
	var sum time.Duration
	for _, r := range s.requests {
		sum += r.Duration()
	}
	return sum
}

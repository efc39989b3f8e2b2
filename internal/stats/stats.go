package stats

import (
	"errors"
	"time"

	"kvs-bench/internal/operation"
)

var (
	// ErrNotBegun は Begin 前の記録で返される
	ErrNotBegun = errors.New("statistics not begun")
	// ErrRequestTerminated は終了済みリクエストの再終了で返される
	ErrRequestTerminated = errors.New("request already terminated")
	// ErrIncompatible はマージできない実装同士で返される
	ErrIncompatible = errors.New("incompatible statistics implementation")
)

// Statistics はフェーズ単位の計測結果を蓄積する
type Statistics interface {
	Begin()
	End()
	StartRequest() *Request
	RequestSet() *RequestSet
	RegisterRequest(latency time.Duration, op operation.Operation) error
	RegisterError(latency time.Duration, op operation.Operation) error
	Copy() Statistics
	Merge(other Statistics) error
}

// Factory は Statistics を生成する
type Factory func() Statistics

// Wrapper は他の Statistics を包む実装
type Wrapper interface {
	Unwrap() Statistics
}

// Unwrap は Wrapper を剥がした内側の Statistics を返す
func Unwrap(s Statistics) Statistics {
	for {
		w, ok := s.(Wrapper)
		if !ok {
			return s
		}
		s = w.Unwrap()
	}
}

package stressor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"kvs-bench/internal/logger"
	"kvs-bench/internal/operation"
	"kvs-bench/internal/stats"
	"kvs-bench/internal/worker"
)

// Config はストレッサーの設定
type Config struct {
	LogTransactionErrors bool            // トランザクション制御の失敗をログに出す
	ExitOnFailure        bool            // 会話の失敗で Run を終了する
	ThinkTime            time.Duration   // 会話間の待機時間
	Executor             worker.Executor // 非同期会話の commit/rollback 実行先（nilで呼び出し元）
	Phase                *Phase          // 共有フェーズ（nilで専用）
	Clock                clock.Clock     // 時刻源（nilで実時間）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		LogTransactionErrors: true,
	}
}

// Stressor は1ゴルーチン分の負荷生成ループ
type Stressor struct {
	index    int
	id       string
	test     RunningTest
	config   Config
	phase    *Phase
	clock    clock.Clock
	executor worker.Executor

	// 実行中の会話の状態（ストレッサーのゴルーチンのみが触る）
	stats    stats.Statistics
	window   *window
	requests *stats.RequestSet
	tx       Transaction
	fatal    error

	conversations atomic.Uint64
	faults        atomic.Uint64
}

// New は新しいストレッサーを作成する
func New(index int, test RunningTest, config Config) *Stressor {
	phase := config.Phase
	if phase == nil {
		phase = NewPhase()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	executor := config.Executor
	if executor == nil {
		executor = worker.Inline{}
	}
	return &Stressor{
		index:    index,
		id:       fmt.Sprintf("stressor-%d", index),
		test:     test,
		config:   config,
		phase:    phase,
		clock:    clk,
		executor: executor,
	}
}

// Index はストレッサー番号を返す
func (s *Stressor) Index() int {
	return s.index
}

// ID はログ用のIDを返す
func (s *Stressor) ID() string {
	return s.id
}

// Clock は時刻源を返す
func (s *Stressor) Clock() clock.Clock {
	return s.clock
}

// Executor は非同期処理の実行先を返す
func (s *Stressor) Executor() worker.Executor {
	return s.executor
}

// Statistics は実行中の会話が記録する統計を返す（ランプアップ中は nil）
func (s *Stressor) Statistics() stats.Statistics {
	return s.stats
}

// InTransaction はトランザクション中かどうかを返す
func (s *Stressor) InTransaction() bool {
	return s.tx != nil
}

// Conversations は実行した会話の数を返す
func (s *Stressor) Conversations() uint64 {
	return s.conversations.Load()
}

// Faults は失敗した会話の数を返す
func (s *Stressor) Faults() uint64 {
	return s.faults.Load()
}

// Run はテストが終了するまで会話を実行する
func (s *Stressor) Run(ctx context.Context) error {
	s.phase.join()
	defer s.phase.leave(s.test)

	logger.Debug(s.id, "Stressor started")
	defer logger.Debug(s.id, "Stressor stopped after %d conversations", s.conversations.Load())

	for !s.test.IsFinished() {
		s.phase.Observe(s.test)

		conv, err := s.test.Selector().Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: select conversation: %w", s.id, err)
		}
		if s.test.IsFinished() {
			break
		}

		if err := s.execute(ctx, conv); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := s.think(ctx); err != nil {
			return nil
		}
	}
	return nil
}

// execute は統計を固定して会話を1つ実行する
func (s *Stressor) execute(ctx context.Context, conv Conversation) error {
	w, release := s.phase.acquire()
	defer release()

	s.window = w
	s.stats = w.statistics()
	defer s.reset()

	err := conv.Run(ctx, s)
	if s.tx != nil && s.fatal == nil {
		logger.Warn(s.id, "Conversation left a transaction open, rolling back")
		if rerr := s.RollbackTransaction(ctx, s.tx, operation.Transaction); err == nil {
			err = rerr
		}
	}
	s.conversations.Add(1)

	if s.fatal != nil {
		logger.Error(s.id, "Stopping stressor: %v", s.fatal)
		return s.fatal
	}
	if err == nil || ctx.Err() != nil {
		return nil
	}

	var violation *ContractViolation
	if errors.As(err, &violation) {
		logger.Error(s.id, "Stopping stressor: %v", err)
		return err
	}

	s.faults.Add(1)
	logger.Warn(s.id, "Conversation failed: %v", err)
	if s.config.ExitOnFailure {
		return fmt.Errorf("%s: %w: %w", s.id, ErrExitOnFailure, err)
	}
	return nil
}

func (s *Stressor) reset() {
	s.stats = nil
	s.window = nil
	s.requests = nil
	s.tx = nil
	s.fatal = nil
}

// think は会話間の待機時間だけ待つ
func (s *Stressor) think(ctx context.Context) error {
	if s.config.ThinkTime <= 0 {
		return nil
	}
	timer := s.clock.Timer(s.config.ThinkTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// violation は規約違反を記録して返す
func (s *Stressor) violation(err error) error {
	v := &ContractViolation{Err: err}
	if s.fatal == nil {
		s.fatal = v
	}
	return v
}

func (s *Stressor) startRequest() *stats.Request {
	if s.stats == nil {
		return nil
	}
	return s.stats.StartRequest()
}

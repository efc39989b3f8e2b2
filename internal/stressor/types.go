package stressor

import (
	"context"

	"kvs-bench/internal/operation"
	"kvs-bench/internal/stats"
)

// Invocation は1回のバックエンド呼び出し
type Invocation interface {
	Invoke(ctx context.Context) (any, error)
	// Operation はトランザクション外で記録する操作
	Operation() operation.Operation
	// TxOperation はトランザクション内で記録する操作
	TxOperation() operation.Operation
}

// Conversation はセレクタが返す作業単位
type Conversation interface {
	Run(ctx context.Context, s *Stressor) error
}

// ConversationFunc は関数を Conversation として扱うアダプタ
type ConversationFunc func(ctx context.Context, s *Stressor) error

// Run は f(ctx, s) を呼ぶ
func (f ConversationFunc) Run(ctx context.Context, s *Stressor) error {
	return f(ctx, s)
}

// Transaction はトランザクションハンドル（終了後は再利用しない）
type Transaction interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Suspender は非同期会話で使うトランザクションの中断・再開
type Suspender interface {
	Suspend() error
	Resume() error
}

// ConversationSelector は次に実行する会話を返す
type ConversationSelector interface {
	Next(ctx context.Context) (Conversation, error)
}

// RunningTest はストレッサーが参照する実行中のテスト
type RunningTest interface {
	IsFinished() bool
	IsSteadyState() bool
	// CreateStatistics は定常状態の開始ごとに1回だけ呼ばれる
	CreateStatistics() stats.Statistics
	Selector() ConversationSelector
	// RecordStatistics は定常状態の終了ごとに1回だけ呼ばれる
	RecordStatistics(s stats.Statistics)
}

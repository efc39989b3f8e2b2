package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"kvs-bench/internal/backend"
	"kvs-bench/internal/future"
	"kvs-bench/internal/operation"
	"kvs-bench/internal/stressor"
)

// RequestConversation は1リクエストだけの会話
type RequestConversation struct {
	w    *Workload
	kind Kind
}

// Request は Kind の単一リクエスト会話を返す
func (w *Workload) Request(k Kind) *RequestConversation {
	return &RequestConversation{w: w, kind: k}
}

// Name は会話の名前を返す
func (c *RequestConversation) Name() string {
	return c.kind.String()
}

// Run はリクエストを1回実行する
func (c *RequestConversation) Run(ctx context.Context, s *stressor.Stressor) error {
	_, err := s.MakeRequest(ctx, c.w.Invocation(c.kind, nil))
	return err
}

// TxConversation は複数リクエストを1トランザクションで実行する会話
type TxConversation struct {
	w *Workload
}

// Transaction はトランザクション会話を返す
func (w *Workload) Transaction() *TxConversation {
	return &TxConversation{w: w}
}

// Name は会話の名前を返す
func (c *TxConversation) Name() string {
	return operation.Transaction.Name()
}

// Run はトランザクションを開始し、ランダムなリクエストを実行して終える
// 失敗したリクエストがあればロールバックする
func (c *TxConversation) Run(ctx context.Context, s *stressor.Stressor) error {
	tx, err := backend.NewTx(c.w.cache)
	if err != nil {
		return err
	}
	if err := s.StartTransaction(ctx, tx); err != nil {
		return err
	}

	for range max(c.w.config.TransactionSize, 1) {
		kind := Kind(rand.IntN(len(kindNames)))
		if _, err := s.MakeRequest(ctx, c.w.Invocation(kind, tx)); err != nil {
			_ = s.RollbackTransaction(ctx, tx, operation.Transaction)
			return err
		}
	}

	if c.w.config.Commit {
		return s.CommitTransaction(ctx, tx, operation.Transaction)
	}
	return s.RollbackTransaction(ctx, tx, operation.Transaction)
}

// asyncStep は非同期会話のステップ種別
type asyncStep struct {
	kind  Kind
	pause bool
}

func parseStep(name string) (asyncStep, error) {
	if strings.EqualFold(name, "pause") {
		return asyncStep{pause: true}, nil
	}
	kind, ok := ParseKind(name)
	if !ok {
		return asyncStep{}, fmt.Errorf("%q: %w", name, ErrUnknownStep)
	}
	return asyncStep{kind: kind}, nil
}

// Composed は非同期ステップで構成される会話を返す
func (w *Workload) Composed() *stressor.ComposedConversation {
	steps := make([]stressor.Step, 0, len(w.steps))
	for _, st := range w.steps {
		if st.pause {
			steps = append(steps, stressor.PauseStep(w.config.Pause))
			continue
		}
		steps = append(steps, w.step(st.kind))
	}

	c := &stressor.ComposedConversation{
		Operation: w.async,
		Steps:     steps,
	}
	if w.config.AsyncTransactions {
		c.NewTransaction = func() (stressor.Transaction, error) {
			tx, err := backend.NewTx(w.cache)
			if err != nil {
				return nil, err
			}
			return tx, nil
		}
	}
	return c
}

// step は Kind の呼び出しを Executor 上で行うステップを返す
func (w *Workload) step(kind Kind) stressor.Step {
	plain, txOp := w.ops[kind].plain, w.ops[kind].tx
	return func(cc *stressor.ConversationContext) *future.Future[any] {
		tx, _ := cc.Transaction().(backend.Tx)
		op := plain
		if tx != nil {
			op = txOp
		}
		return stressor.RecordingStep(op, func(cc *stressor.ConversationContext) *future.Future[any] {
			inv := w.Invocation(kind, tx)
			return cc.Go(inv.Invoke)
		})(cc)
	}
}

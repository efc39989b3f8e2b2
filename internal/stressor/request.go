package stressor

import (
	"context"
	"fmt"

	"kvs-bench/internal/logger"
	"kvs-bench/internal/operation"
	"kvs-bench/internal/stats"
)

// MakeRequest は呼び出しを計測して実行する
// 失敗した場合は操作をエラーとして記録し *BusinessFault を返す
func (s *Stressor) MakeRequest(ctx context.Context, inv Invocation) (any, error) {
	req := s.startRequest()
	result, err := inv.Invoke(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// 中断された試行は記録しない
			req.Discard()
			return nil, err
		}
		op := inv.Operation()
		if rerr := req.Failed(op); rerr != nil {
			return nil, s.violation(rerr)
		}
		s.requests.Add(req)
		return nil, &BusinessFault{Op: op, Err: err}
	}

	op := inv.Operation()
	if s.tx != nil {
		op = inv.TxOperation()
	}
	if rerr := req.Succeeded(op); rerr != nil {
		return nil, s.violation(rerr)
	}
	s.requests.Add(req)
	return result, nil
}

// StartTransaction はトランザクションを開始して BEGIN を記録する
func (s *Stressor) StartTransaction(ctx context.Context, tx Transaction) error {
	if s.tx != nil {
		return s.violation(ErrTransactionOpen)
	}

	req := s.startRequest()
	if err := tx.Begin(ctx); err != nil {
		if rerr := req.Failed(operation.Begin); rerr != nil {
			return s.violation(rerr)
		}
		if s.config.LogTransactionErrors {
			logger.Error(s.id, "Failed to begin transaction: %v", err)
		}
		return &MechanicalFailure{Op: operation.Begin, Err: err}
	}
	if rerr := req.Succeeded(operation.Begin); rerr != nil {
		return s.violation(rerr)
	}

	s.tx = tx
	if s.stats != nil {
		s.requests = s.stats.RequestSet()
	}
	s.requests.Add(req)
	return nil
}

// CommitTransaction はコミットして COMMIT と aggregateOp を記録する
func (s *Stressor) CommitTransaction(ctx context.Context, tx Transaction, aggregateOp operation.Operation) error {
	return s.endTransaction(ctx, tx.Commit, operation.Commit, aggregateOp)
}

// RollbackTransaction はロールバックして ROLLBACK と aggregateOp を記録する
// ロールバック自体が成功すれば aggregateOp は成功として記録される
func (s *Stressor) RollbackTransaction(ctx context.Context, tx Transaction, aggregateOp operation.Operation) error {
	return s.endTransaction(ctx, tx.Rollback, operation.Rollback, aggregateOp)
}

func (s *Stressor) endTransaction(ctx context.Context, end func(context.Context) error,
	lifecycle, aggregateOp operation.Operation) error {
	if s.tx == nil {
		return s.violation(fmt.Errorf("%s: %w", lifecycle, ErrNoTransaction))
	}

	req := s.startRequest()
	err := end(ctx)

	// ハンドルは結果に関わらず再利用しない
	requests := s.requests
	s.tx = nil
	s.requests = nil

	if err != nil {
		if rerr := s.finish(req, requests, lifecycle, aggregateOp, false); rerr != nil {
			return rerr
		}
		if s.config.LogTransactionErrors {
			logger.Error(s.id, "Failed to end transaction with %s: %v", lifecycle, err)
		}
		return &MechanicalFailure{Op: lifecycle, Err: err}
	}
	return s.finish(req, requests, lifecycle, aggregateOp, true)
}

func (s *Stressor) finish(req *stats.Request, requests *stats.RequestSet,
	lifecycle, aggregateOp operation.Operation, ok bool) error {
	if ok {
		if err := req.Succeeded(lifecycle); err != nil {
			return s.violation(err)
		}
		requests.Add(req)
		if err := requests.Succeeded(aggregateOp); err != nil {
			return s.violation(err)
		}
		return nil
	}

	if err := req.Failed(lifecycle); err != nil {
		return s.violation(err)
	}
	requests.Add(req)
	if err := requests.Failed(aggregateOp); err != nil {
		return s.violation(err)
	}
	return nil
}

package stressor

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"kvs-bench/internal/future"
	"kvs-bench/internal/logger"
	"kvs-bench/internal/operation"
	"kvs-bench/internal/stats"
	"kvs-bench/internal/worker"
)

var errNilFuture = errors.New("step returned no future")

// Step は非同期会話の1ステップ
type Step func(cc *ConversationContext) *future.Future[any]

// ComposedConversation はステップを順に非同期実行する会話
//
// Run は最初のステップを開始した時点で戻り、以降のステップは直前の
// ステップを完了させたゴルーチンで続行される。
type ComposedConversation struct {
	Operation      operation.Operation
	Steps          []Step
	NewTransaction func() (Transaction, error) // nil でトランザクションなし
	// Done は会話の終了時に呼ばれる（任意）
	Done func(err error)
}

// Name は会話の名前を返す
func (c *ComposedConversation) Name() string {
	return c.Operation.Name()
}

// Run は会話を開始する
func (c *ComposedConversation) Run(ctx context.Context, s *Stressor) error {
	if len(c.Steps) == 0 {
		return s.violation(ErrEmptyConversation)
	}

	st := s.Statistics()
	cc := &ConversationContext{
		ctx:          context.WithoutCancel(ctx),
		id:           s.ID(),
		conversation: c,
		stats:        st,
		window:       s.window,
		clock:        s.Clock(),
		executor:     s.Executor(),
		logTxErrors:  s.config.LogTransactionErrors,
	}
	if st != nil {
		cc.requests = st.RequestSet()
	}
	cc.window.hold()

	if c.NewTransaction != nil {
		req := cc.StartRequest()
		tx, err := c.NewTransaction()
		if err == nil {
			err = tx.Begin(ctx)
		}
		if err != nil {
			cc.failed(req, operation.Begin)
			cc.requests.Add(req)
			cc.conclude(false)
			mf := &MechanicalFailure{Op: operation.Begin, Err: err}
			cc.finish(mf)
			return mf
		}
		cc.succeeded(req, operation.Begin)
		cc.requests.Add(req)
		cc.tx = tx
		if sp, ok := tx.(Suspender); ok {
			cc.suspender = sp
		}
	}

	cc.accept(nil, nil, true)
	return nil
}

// ConversationContext は非同期会話の実行状態（ステップ番号と継続）
type ConversationContext struct {
	ctx          context.Context
	id           string
	conversation *ComposedConversation
	stats        stats.Statistics
	window       *window
	requests     *stats.RequestSet
	clock        clock.Clock
	executor     worker.Executor
	logTxErrors  bool

	tx        Transaction
	suspender Suspender
	index     int
	pending   []pendingJob
}

// pendingJob はステップ終了後に Executor に渡すジョブ
type pendingJob struct {
	f   *future.Future[any]
	job worker.Job
}

// Context はステップに渡すコンテキストを返す
func (cc *ConversationContext) Context() context.Context {
	return cc.ctx
}

// Statistics は記録先の統計を返す（ランプアップ中は nil）
func (cc *ConversationContext) Statistics() stats.Statistics {
	return cc.stats
}

// RequestSet は会話のリクエストセットを返す
func (cc *ConversationContext) RequestSet() *stats.RequestSet {
	return cc.requests
}

// Transaction は会話のトランザクションを返す
func (cc *ConversationContext) Transaction() Transaction {
	return cc.tx
}

// Clock は時刻源を返す
func (cc *ConversationContext) Clock() clock.Clock {
	return cc.clock
}

// Index は次に実行するステップ番号を返す
func (cc *ConversationContext) Index() int {
	return cc.index
}

// StartRequest はリクエストを開始する（ランプアップ中は nil）
func (cc *ConversationContext) StartRequest() *stats.Request {
	if cc.stats == nil {
		return nil
	}
	return cc.stats.StartRequest()
}

// accept は直前のステップの結果を受けて会話を進める
// onStressor はストレッサーのゴルーチン上で呼ばれているかどうか
func (cc *ConversationContext) accept(_ any, err error, onStressor bool) {
	for {
		if err != nil {
			cc.abort(err, onStressor)
			return
		}
		if cc.index >= len(cc.conversation.Steps) {
			cc.complete(onStressor)
			return
		}

		step := cc.conversation.Steps[cc.index]
		cc.index++

		f := cc.invoke(step)
		var done bool
		_, done, err = f.Listen(func(v any, err error) {
			cc.accept(v, err, false)
		})
		if !done {
			return
		}
	}
}

func (cc *ConversationContext) invoke(step Step) *future.Future[any] {
	if cc.suspender != nil {
		if err := cc.suspender.Resume(); err != nil {
			return future.Failed[any](err)
		}
	}
	f := step(cc)
	if cc.suspender != nil {
		if err := cc.suspender.Suspend(); err != nil {
			cc.pending = nil
			return future.Failed[any](err)
		}
	}
	cc.flush()
	if f == nil {
		return future.Failed[any](errNilFuture)
	}
	return f
}

// Go は fn を Executor 上で実行するフューチャーを返す
//
// ジョブはステップが戻ってトランザクションが中断された後に投入され、
// fn の実行中だけトランザクションが再開される。
func (cc *ConversationContext) Go(fn func(ctx context.Context) (any, error)) *future.Future[any] {
	f := future.New[any]()
	cc.pending = append(cc.pending, pendingJob{
		f: f,
		job: func() {
			f.Complete(cc.attached(fn))
		},
	})
	return f
}

func (cc *ConversationContext) attached(fn func(ctx context.Context) (any, error)) (any, error) {
	if cc.suspender == nil {
		return fn(cc.ctx)
	}
	if err := cc.suspender.Resume(); err != nil {
		return nil, err
	}
	v, err := fn(cc.ctx)
	if serr := cc.suspender.Suspend(); err == nil {
		err = serr
	}
	return v, err
}

func (cc *ConversationContext) flush() {
	pending := cc.pending
	cc.pending = nil
	for _, p := range pending {
		if !cc.executor.Submit(p.job) {
			p.f.Complete(nil, future.ErrRejected)
		}
	}
}

func (cc *ConversationContext) complete(onStressor bool) {
	if cc.tx == nil {
		cc.conclude(true)
		cc.finish(nil)
		return
	}
	cc.dispatch(onStressor, cc.commit)
}

func (cc *ConversationContext) abort(err error, onStressor bool) {
	logger.Warn(cc.id, "Failed to execute conversation %s: %v", cc.conversation.Operation, err)
	if cc.tx == nil {
		cc.conclude(false)
		cc.finish(err)
		return
	}
	cc.dispatch(onStressor, func(req *stats.Request) {
		cc.rollback(req, err)
	})
}

// dispatch はストレッサーのゴルーチン上ならExecutorに回し、そうでなければその場で実行する
func (cc *ConversationContext) dispatch(onStressor bool, fn func(req *stats.Request)) {
	// Executor への切り替え時間も含めて計測する
	req := cc.StartRequest()
	if !onStressor {
		fn(req)
		return
	}
	if !cc.executor.Submit(func() { fn(req) }) {
		logger.Warn(cc.id, "Executor rejected transaction end, running inline")
		fn(req)
	}
}

func (cc *ConversationContext) commit(req *stats.Request) {
	var err error
	if cc.suspender != nil {
		err = cc.suspender.Resume()
	}
	if err == nil {
		err = cc.tx.Commit(cc.ctx)
	}
	if err != nil {
		if cc.logTxErrors {
			logger.Error(cc.id, "Failed to commit transaction: %v", err)
		}
		cc.failed(req, operation.Commit)
		cc.requests.Add(req)
		cc.conclude(false)
		cc.finish(&MechanicalFailure{Op: operation.Commit, Err: err})
		return
	}
	cc.succeeded(req, operation.Commit)
	cc.requests.Add(req)
	cc.conclude(true)
	cc.finish(nil)
}

func (cc *ConversationContext) rollback(req *stats.Request, cause error) {
	var err error
	if cc.suspender != nil {
		err = cc.suspender.Resume()
	}
	if err == nil {
		err = cc.tx.Rollback(cc.ctx)
	}
	if err != nil {
		if cc.logTxErrors {
			logger.Error(cc.id, "Failed to rollback transaction: %v", err)
		}
		cc.failed(req, operation.Rollback)
		cause = &MechanicalFailure{Op: operation.Rollback, Err: err}
	} else {
		cc.succeeded(req, operation.Rollback)
	}
	cc.requests.Add(req)
	cc.conclude(false)
	cc.finish(cause)
}

func (cc *ConversationContext) finish(err error) {
	cc.window.release()
	if cc.conversation.Done != nil {
		cc.conversation.Done(err)
	}
}

// succeeded は req を op の成功として記録する
func (cc *ConversationContext) succeeded(req *stats.Request, op operation.Operation) {
	cc.record(req, func() error { return req.Succeeded(op) })
}

// failed は req を op の失敗として記録する
func (cc *ConversationContext) failed(req *stats.Request, op operation.Operation) {
	cc.record(req, func() error { return req.Failed(op) })
}

// conclude は会話全体の結果をリクエストセットから記録する
func (cc *ConversationContext) conclude(ok bool) {
	op := cc.conversation.Operation
	cc.record(nil, func() error {
		if ok {
			return cc.requests.Succeeded(op)
		}
		return cc.requests.Failed(op)
	})
}

// record はフェーズが開いている間だけ fn で統計に記録する
// フェーズ終了後なら req を破棄する
func (cc *ConversationContext) record(req *stats.Request, fn func() error) {
	ok, err := cc.window.record(fn)
	if !ok {
		req.Discard()
		return
	}
	if err != nil {
		logger.Error(cc.id, "Failed to record request: %v", &ContractViolation{Err: err})
	}
}

// RecordingStep は exec の所要時間を op として記録するステップを返す
func RecordingStep(op operation.Operation, exec func(cc *ConversationContext) *future.Future[any]) Step {
	return func(cc *ConversationContext) *future.Future[any] {
		req := cc.StartRequest()
		f := exec(cc)
		if f == nil {
			req.RequestFailed()
			cc.requests.Add(req)
			return future.Failed[any](errNilFuture)
		}
		req.RequestCompleted()

		// 記録を済ませてから次のステップに進める
		next := future.New[any]()
		f.WhenComplete(func(v any, err error) {
			if err == nil {
				cc.succeeded(req, op)
			} else {
				cc.failed(req, op)
			}
			cc.requests.Add(req)
			next.Complete(v, err)
		})
		return next
	}
}

// PauseStep は d だけ待つステップを返す
func PauseStep(d time.Duration) Step {
	return func(cc *ConversationContext) *future.Future[any] {
		f := future.New[any]()
		cc.clock.AfterFunc(d, func() {
			f.Complete(nil, nil)
		})
		return f
	}
}

package stressor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvs-bench/internal/future"
	"kvs-bench/internal/operation"
	"kvs-bench/internal/worker"
)

var opConversation = registry.MustRegister("CONVERSATION")

type countingExecutor struct {
	submits atomic.Int32
}

func (e *countingExecutor) Submit(job worker.Job) bool {
	e.submits.Add(1)
	go job()
	return true
}

func completedStep(cc *ConversationContext) *future.Future[any] {
	return future.Completed[any]("done", nil)
}

// asyncStep は別ゴルーチンで err により完了するステップを返す
func asyncStep(err error) func(cc *ConversationContext) *future.Future[any] {
	return func(cc *ConversationContext) *future.Future[any] {
		f := future.New[any]()
		go f.Complete(nil, err)
		return f
	}
}

// pendingStep はテストから完了させる Future を返すステップ
func pendingStep(pending chan *future.Future[any]) func(cc *ConversationContext) *future.Future[any] {
	return func(cc *ConversationContext) *future.Future[any] {
		f := future.New[any]()
		pending <- f
		return f
	}
}

func composed(tx *fakeTx, done chan error, steps ...Step) *ComposedConversation {
	c := &ComposedConversation{
		Operation: opConversation,
		Steps:     steps,
		Done:      func(err error) { done <- err },
	}
	if tx != nil {
		c.NewTransaction = func() (Transaction, error) { return tx, nil }
	}
	return c
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("conversation did not complete")
		return nil
	}
}

func TestComposedNonTransactional(t *testing.T) {
	s, st := measuring(t)
	done := make(chan error, 1)
	c := composed(nil, done,
		RecordingStep(opFoo, completedStep),
		RecordingStep(opBar, asyncStep(nil)),
	)

	require.NoError(t, c.Run(context.Background(), s))
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, 1, st.requestCount(opFoo))
	assert.Equal(t, 1, st.requestCount(opBar))
	assert.Equal(t, 1, st.requestCount(opConversation))
	assert.Zero(t, st.errorCount(opConversation))
}

func TestComposedCommitOnStressorIsDispatched(t *testing.T) {
	exec := &countingExecutor{}
	config := DefaultConfig()
	config.Executor = exec
	s, st := measuringWith(t, config)

	tx := &fakeTx{}
	done := make(chan error, 1)
	c := composed(tx, done,
		RecordingStep(opFoo, completedStep),
		RecordingStep(opBar, completedStep),
	)

	require.NoError(t, c.Run(context.Background(), s))
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, int32(1), exec.submits.Load())
	assert.Equal(t, int32(1), tx.commits.Load())
	assert.Equal(t, int32(2), tx.suspends.Load())
	assert.Equal(t, int32(3), tx.resumes.Load())

	assert.Equal(t, 1, st.requestCount(operation.Begin))
	assert.Equal(t, 1, st.requestCount(operation.Commit))
	assert.Equal(t, 1, st.requestCount(opConversation))
}

func TestComposedFailureRollsBackInline(t *testing.T) {
	exec := &countingExecutor{}
	config := DefaultConfig()
	config.Executor = exec
	s, st := measuringWith(t, config)

	tx := &fakeTx{}
	done := make(chan error, 1)
	pending := make(chan *future.Future[any], 1)
	c := composed(tx, done,
		RecordingStep(opFoo, completedStep),
		RecordingStep(opFault, pendingStep(pending)),
		RecordingStep(opBar, completedStep),
	)

	require.NoError(t, c.Run(context.Background(), s))
	(<-pending).Complete(nil, errFault)
	assert.ErrorIs(t, waitDone(t, done), errFault)

	// 完了コールバック側のゴルーチンなのでその場でロールバックする
	assert.Zero(t, exec.submits.Load())
	assert.Equal(t, int32(1), tx.rollbacks.Load())
	assert.Zero(t, tx.commits.Load())

	assert.Equal(t, 1, st.requestCount(opFoo))
	assert.Equal(t, 1, st.errorCount(opFault))
	assert.Zero(t, st.requestCount(opBar))
	assert.Equal(t, 1, st.requestCount(operation.Rollback))
	assert.Equal(t, 1, st.errorCount(opConversation))
}

func TestComposedCommitFailure(t *testing.T) {
	s, st := measuring(t)
	boom := errors.New("commit failed")
	tx := &fakeTx{commitErr: boom}
	done := make(chan error, 1)
	c := composed(tx, done, RecordingStep(opFoo, asyncStep(nil)))

	require.NoError(t, c.Run(context.Background(), s))
	err := waitDone(t, done)

	var failure *MechanicalFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, operation.Commit, failure.Op)
	assert.Equal(t, 1, st.errorCount(operation.Commit))
	assert.Equal(t, 1, st.errorCount(opConversation))
}

func TestComposedBeginFailure(t *testing.T) {
	s, st := measuring(t)
	tx := &fakeTx{beginErr: errors.New("begin failed")}
	done := make(chan error, 1)
	c := composed(tx, done, RecordingStep(opFoo, completedStep))

	err := c.Run(context.Background(), s)
	var failure *MechanicalFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, operation.Begin, failure.Op)
	assert.Error(t, waitDone(t, done))

	assert.Equal(t, 1, st.errorCount(operation.Begin))
	assert.Equal(t, 1, st.errorCount(opConversation))
	assert.Zero(t, st.requestCount(opFoo))
}

func TestComposedNewTransactionError(t *testing.T) {
	s, st := measuring(t)
	boom := errors.New("no transactional backend")
	done := make(chan error, 1)
	c := &ComposedConversation{
		Operation:      opConversation,
		Steps:          []Step{RecordingStep(opFoo, completedStep)},
		NewTransaction: func() (Transaction, error) { return nil, boom },
		Done:           func(err error) { done <- err },
	}

	err := c.Run(context.Background(), s)
	var failure *MechanicalFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, operation.Begin, failure.Op)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, waitDone(t, done), boom)

	assert.Equal(t, 1, st.errorCount(operation.Begin))
	assert.Equal(t, 1, st.errorCount(opConversation))
	assert.Zero(t, st.requestCount(opFoo))
}

func TestComposedPause(t *testing.T) {
	mock := clock.NewMock()
	config := DefaultConfig()
	config.Clock = mock
	s, st := measuringWith(t, config)

	done := make(chan error, 1)
	c := composed(nil, done,
		PauseStep(time.Second),
		RecordingStep(opFoo, completedStep),
	)
	require.NoError(t, c.Run(context.Background(), s))

	select {
	case <-done:
		t.Fatal("conversation completed before the pause elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(time.Second)
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 1, st.requestCount(opFoo))
}

func TestComposedRampUp(t *testing.T) {
	s := New(0, &fakeTest{}, DefaultConfig())
	tx := &fakeTx{}
	done := make(chan error, 1)
	c := composed(tx, done, RecordingStep(opFoo, asyncStep(nil)))

	require.NoError(t, c.Run(context.Background(), s))
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, int32(1), tx.commits.Load())
}

func TestComposedEmpty(t *testing.T) {
	s, _ := measuring(t)
	err := (&ComposedConversation{Operation: opConversation}).Run(context.Background(), s)
	assert.ErrorIs(t, err, ErrEmptyConversation)
}

func TestComposedInStressorLoop(t *testing.T) {
	var completed atomic.Int64
	c := &ComposedConversation{
		Operation: opConversation,
		Steps: []Step{
			RecordingStep(opFoo, completedStep),
			RecordingStep(opBar, asyncStep(nil)),
		},
		NewTransaction: func() (Transaction, error) { return &fakeTx{}, nil },
		Done: func(err error) {
			if err == nil {
				completed.Add(1)
			}
		},
	}
	test := newFakeTest(t, c)
	config := DefaultConfig()
	pool := worker.NewPool(2)
	pool.Start(context.Background())
	defer pool.Stop()
	config.Executor = pool

	wait := startStressors(t, test, 2, config)
	test.steady.Store(true)
	require.Eventually(t, func() bool {
		return test.createdCount() == 1 && test.createdAt(0).requestCount(opConversation) > 0
	}, 5*time.Second, time.Millisecond)
	test.steady.Store(false)
	require.Eventually(t, func() bool { return test.recordedCount() == 1 }, 5*time.Second, time.Millisecond)
	test.finished.Store(true)
	for _, err := range wait() {
		assert.NoError(t, err)
	}
	assert.Positive(t, completed.Load())
}

// attachTx は中断状態を追跡し、中断中の利用を検出する
type attachTx struct {
	fakeTx
	suspended atomic.Bool
	misuse    atomic.Int32
}

func (tx *attachTx) Suspend() error {
	tx.suspended.Store(true)
	return tx.fakeTx.Suspend()
}

func (tx *attachTx) Resume() error {
	tx.suspended.Store(false)
	return tx.fakeTx.Resume()
}

func (tx *attachTx) use() {
	if tx.suspended.Load() {
		tx.misuse.Add(1)
	}
}

func TestComposedGoResumesTransaction(t *testing.T) {
	exec := &countingExecutor{}
	config := DefaultConfig()
	config.Executor = exec
	s, st := measuringWith(t, config)

	tx := &attachTx{}
	done := make(chan error, 1)
	work := func(cc *ConversationContext) *future.Future[any] {
		return cc.Go(func(context.Context) (any, error) {
			tx.use()
			return nil, nil
		})
	}
	c := &ComposedConversation{
		Operation:      opConversation,
		Steps:          []Step{RecordingStep(opFoo, work), RecordingStep(opBar, work)},
		NewTransaction: func() (Transaction, error) { return tx, nil },
		Done:           func(err error) { done <- err },
	}

	require.NoError(t, c.Run(context.Background(), s))
	require.NoError(t, waitDone(t, done))

	assert.Zero(t, tx.misuse.Load())
	assert.Equal(t, int32(1), tx.commits.Load())
	// two step jobs, plus the commit when the last job finished before Listen
	assert.GreaterOrEqual(t, exec.submits.Load(), int32(2))
	assert.Equal(t, 1, st.requestCount(opFoo))
	assert.Equal(t, 1, st.requestCount(opBar))
	assert.Equal(t, 1, st.requestCount(opConversation))
}

type rejectingExecutor struct{}

func (rejectingExecutor) Submit(worker.Job) bool { return false }

func TestComposedGoRejected(t *testing.T) {
	config := DefaultConfig()
	config.Executor = rejectingExecutor{}
	s, st := measuringWith(t, config)

	done := make(chan error, 1)
	c := composed(nil, done, RecordingStep(opFoo, func(cc *ConversationContext) *future.Future[any] {
		return cc.Go(func(context.Context) (any, error) { return nil, nil })
	}))

	require.NoError(t, c.Run(context.Background(), s))
	assert.ErrorIs(t, waitDone(t, done), future.ErrRejected)
	assert.Equal(t, 1, st.errorCount(opFoo))
	assert.Equal(t, 1, st.errorCount(opConversation))
}

// phased は共有フェーズで計測中のストレッサーを返す
func phased(t *testing.T, drain time.Duration) (*Stressor, *Phase, *fakeTest) {
	t.Helper()
	test := &fakeTest{}
	p := NewPhase()
	p.SetDrainTimeout(drain)
	config := DefaultConfig()
	config.Phase = p
	s := New(0, test, config)

	test.steady.Store(true)
	require.True(t, p.Observe(test))
	return s, p, test
}

func TestComposedRecordsAfterRetirementAreDropped(t *testing.T) {
	s, p, test := phased(t, 0)

	done := make(chan error, 1)
	pending := make(chan *future.Future[any], 1)
	c := composed(nil, done,
		RecordingStep(opFoo, completedStep),
		RecordingStep(opBar, pendingStep(pending)),
	)
	require.NoError(t, s.execute(context.Background(), c))
	f := <-pending

	test.steady.Store(false)
	p.Observe(test)
	require.Equal(t, 1, test.recordedCount())
	st := test.createdAt(0)
	assert.Equal(t, 1, st.requestCount(opFoo))
	before := st.total()

	f.Complete(nil, nil)
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, before, st.total())
	assert.Zero(t, st.requestCount(opBar))
	assert.Zero(t, st.requestCount(opConversation))
	assert.Equal(t, uint64(2), p.Dropped())
}

func TestComposedRetirementDrainsConversations(t *testing.T) {
	s, p, test := phased(t, 5*time.Second)

	done := make(chan error, 1)
	pending := make(chan *future.Future[any], 1)
	c := composed(nil, done, RecordingStep(opFoo, pendingStep(pending)))
	require.NoError(t, s.execute(context.Background(), c))
	f := <-pending

	test.steady.Store(false)
	retired := make(chan struct{})
	go func() {
		p.Observe(test)
		close(retired)
	}()

	select {
	case <-retired:
		t.Fatal("phase retired while an async conversation was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, test.recordedCount())

	f.Complete(nil, nil)
	require.NoError(t, waitDone(t, done))
	select {
	case <-retired:
	case <-time.After(5 * time.Second):
		t.Fatal("phase was not retired")
	}

	require.Equal(t, 1, test.recordedCount())
	st := test.createdAt(0)
	assert.Equal(t, 1, st.requestCount(opFoo))
	assert.Equal(t, 1, st.requestCount(opConversation))
	assert.Zero(t, p.Dropped())
}

func TestComposedDrainTimeout(t *testing.T) {
	s, p, test := phased(t, 20*time.Millisecond)

	done := make(chan error, 1)
	pending := make(chan *future.Future[any], 1)
	c := composed(nil, done, RecordingStep(opFoo, pendingStep(pending)))
	require.NoError(t, s.execute(context.Background(), c))
	f := <-pending

	test.steady.Store(false)
	p.Observe(test)
	require.Equal(t, 1, test.recordedCount())

	f.Complete(nil, nil)
	require.NoError(t, waitDone(t, done))
	assert.Zero(t, test.createdAt(0).total())
	assert.Equal(t, uint64(2), p.Dropped())
}

package workload

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvs-bench/internal/backend"
	"kvs-bench/internal/logger"
	"kvs-bench/internal/operation"
	"kvs-bench/internal/stats"
	"kvs-bench/internal/stressor"
	"kvs-bench/internal/testrun"
	"kvs-bench/internal/worker"
)

func TestMain(m *testing.M) {
	logger.Default.SetLevel(logger.LevelError)
	os.Exit(m.Run())
}

func newMemory(t *testing.T) *backend.Memory {
	t.Helper()
	m, err := backend.NewMemory(context.Background(), 3, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// run はワークロードを定常状態で d だけ実行し、記録された統計を返す
func run(t *testing.T, w *Workload, config stressor.Config, d time.Duration) *stats.Basic {
	t.Helper()
	sel, err := w.Selector(clock.New())
	require.NoError(t, err)

	tc := testrun.DefaultConfig()
	tc.Stressors = 4
	tc.Stressor = config
	test := testrun.New(tc)
	test.UpdateSelector(sel)
	test.SetSteadyState(true)
	require.NoError(t, test.Start(context.Background()))

	time.Sleep(d)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recorded, err := test.Statistics(ctx)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Empty(t, test.Errors())
	return recorded[0].(*stats.Basic)
}

func requests(b *stats.Basic, op operation.Operation) uint64 {
	s, ok := b.OperationStats(op)
	if !ok {
		return 0
	}
	return s.Requests
}

func TestNewRegistersOperations(t *testing.T) {
	registry := operation.NewRegistry()
	w, err := New(newMemory(t), registry, DefaultConfig())
	require.NoError(t, err)

	for _, name := range []string{"GET", "PUT", "REMOVE", "TX_GET", "TX_PUT", "TX_REMOVE"} {
		_, ok := registry.ByName(name)
		assert.True(t, ok, name)
	}
	assert.Equal(t, "PUT", w.Operation(KindPut).Name())
	assert.Equal(t, "TX_PUT", w.TxOperation(KindPut).Name())
}

func TestNewRejectsNonTransactional(t *testing.T) {
	config := DefaultConfig()
	config.TxRate = 1
	_, err := New(backend.NewLocalCache(0), operation.NewRegistry(), config)
	assert.ErrorIs(t, err, backend.ErrNotTransactional)
}

func TestNewRejectsUnknownStep(t *testing.T) {
	config := DefaultConfig()
	config.AsyncRate = 1
	config.AsyncSteps = []string{"get", "scan"}
	_, err := New(newMemory(t), operation.NewRegistry(), config)
	assert.ErrorIs(t, err, ErrUnknownStep)

	config.AsyncSteps = nil
	_, err = New(newMemory(t), operation.NewRegistry(), config)
	assert.ErrorIs(t, err, stressor.ErrEmptyConversation)
}

func TestSelectorWithoutRates(t *testing.T) {
	w, err := New(newMemory(t), operation.NewRegistry(), Config{Window: time.Millisecond})
	require.NoError(t, err)
	_, err = w.Selector(clock.New())
	assert.ErrorIs(t, err, ErrNoConversations)
}

func TestInvocation(t *testing.T) {
	m := newMemory(t)
	config := DefaultConfig()
	config.KeyRange = 1
	w, err := New(m, operation.NewRegistry(), config)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = w.Invocation(KindPut, nil).Invoke(ctx)
	require.NoError(t, err)
	v, err := w.Invocation(KindGet, nil).Invoke(ctx)
	require.NoError(t, err)
	assert.Len(t, v, config.ValueSize)

	existed, err := w.Invocation(KindRemove, nil).Invoke(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, existed)
	assert.Zero(t, m.StoreStats().Keys)
}

func TestKind(t *testing.T) {
	k, ok := ParseKind("remove")
	assert.True(t, ok)
	assert.Equal(t, KindRemove, k)
	_, ok = ParseKind("scan")
	assert.False(t, ok)
	assert.Equal(t, "UNKNOWN", Kind(9).String())
}

func TestRequestConversations(t *testing.T) {
	config := DefaultConfig()
	config.KeyRange = 100
	w, err := New(newMemory(t), operation.NewRegistry(), config)
	require.NoError(t, err)

	b := run(t, w, stressor.DefaultConfig(), 50*time.Millisecond)

	assert.NotZero(t, requests(b, w.Operation(KindGet)))
	assert.NotZero(t, requests(b, w.Operation(KindPut)))
	assert.Zero(t, requests(b, operation.Transaction))
}

func TestTxConversation(t *testing.T) {
	config := DefaultConfig()
	config.GetRate, config.PutRate, config.RemoveRate = 0, 0, 0
	config.TxRate = 20
	config.TransactionSize = 3
	w, err := New(newMemory(t), operation.NewRegistry(), config)
	require.NoError(t, err)
	assert.Equal(t, "TX", w.Transaction().Name())

	b := run(t, w, stressor.DefaultConfig(), 50*time.Millisecond)

	txs := requests(b, operation.Transaction)
	assert.NotZero(t, txs)
	assert.Equal(t, txs, requests(b, operation.Begin))
	assert.Zero(t, requests(b, w.Operation(KindGet)))

	var inTx uint64
	for _, k := range []Kind{KindGet, KindPut, KindRemove} {
		inTx += requests(b, w.TxOperation(k))
	}
	assert.Equal(t, 3*txs, inTx)
}

func TestTxConversationRollback(t *testing.T) {
	m := newMemory(t)
	config := DefaultConfig()
	config.GetRate, config.PutRate, config.RemoveRate = 0, 0, 0
	config.TxRate = 20
	config.Commit = false
	w, err := New(m, operation.NewRegistry(), config)
	require.NoError(t, err)

	b := run(t, w, stressor.DefaultConfig(), 30*time.Millisecond)

	assert.NotZero(t, requests(b, operation.Rollback))
	assert.Zero(t, requests(b, operation.Commit))
	assert.Zero(t, m.StoreStats().Keys)
}

func TestComposedConversation(t *testing.T) {
	config := DefaultConfig()
	config.GetRate, config.PutRate, config.RemoveRate = 0, 0, 0
	config.AsyncRate = 20
	config.AsyncSteps = []string{"put", "pause", "get"}
	config.AsyncTransactions = true
	w, err := New(newMemory(t), operation.NewRegistry(), config)
	require.NoError(t, err)

	c := w.Composed()
	assert.Equal(t, "ASYNC", c.Name())
	assert.Len(t, c.Steps, 3)
	assert.NotNil(t, c.NewTransaction)

	pool := worker.NewPool(4)
	pool.Start(context.Background())
	defer pool.Stop()

	sc := stressor.DefaultConfig()
	sc.Executor = pool
	b := run(t, w, sc, 50*time.Millisecond)

	assert.NotZero(t, requests(b, operation.Begin))
	assert.NotZero(t, requests(b, w.TxOperation(KindPut)))
	assert.Zero(t, requests(b, w.Operation(KindPut)))
}

func TestComposedTransactionOnLocalCache(t *testing.T) {
	w := &Workload{
		cache:  backend.NewLocalCache(0),
		config: Config{AsyncTransactions: true},
	}
	c := w.Composed()
	require.NotNil(t, c.NewTransaction)

	tx, err := c.NewTransaction()
	assert.Nil(t, tx)
	assert.ErrorIs(t, err, backend.ErrNotTransactional)
}

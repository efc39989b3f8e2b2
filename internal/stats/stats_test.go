package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvs-bench/internal/operation"
)

var (
	registry = operation.NewRegistry()
	opGet    = registry.MustRegister("GET")
	opPut    = registry.MustRegister("PUT")
)

func newMockBasic() (*Basic, *clock.Mock) {
	mock := clock.NewMock()
	config := DefaultConfig()
	config.Clock = mock
	return NewWithConfig(config), mock
}

func TestRecordBeforeBegin(t *testing.T) {
	b, _ := newMockBasic()

	err := b.RegisterRequest(time.Millisecond, opGet)
	assert.ErrorIs(t, err, ErrNotBegun)

	err = b.StartRequest().Succeeded(opGet)
	assert.ErrorIs(t, err, ErrNotBegun)
}

func TestRequestSucceeded(t *testing.T) {
	b, mock := newMockBasic()
	b.Begin()

	req := b.StartRequest()
	mock.Add(5 * time.Millisecond)
	require.NoError(t, req.Succeeded(opGet))

	assert.Equal(t, OutcomeSucceeded, req.Outcome())
	assert.True(t, req.IsSuccessful())
	assert.Equal(t, 5*time.Millisecond, req.Duration())
	assert.Equal(t, 5*time.Millisecond, req.ResponseTime())

	snap, ok := b.OperationStats(opGet)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Requests)
	assert.Equal(t, uint64(0), snap.Errors)
	assert.Equal(t, 5*time.Millisecond, snap.Max)
	assert.Equal(t, 5*time.Millisecond, snap.Mean)
}

func TestRequestTerminatedOnce(t *testing.T) {
	b, _ := newMockBasic()
	b.Begin()

	req := b.StartRequest()
	require.NoError(t, req.Failed(opGet))
	assert.ErrorIs(t, req.Succeeded(opGet), ErrRequestTerminated)
	assert.ErrorIs(t, req.Failed(opGet), ErrRequestTerminated)

	snap, _ := b.OperationStats(opGet)
	assert.Equal(t, uint64(1), snap.Requests)
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, 1.0, snap.ErrorRate())
}

func TestNilRequestIsNoop(t *testing.T) {
	var req *Request

	assert.NoError(t, req.Succeeded(opGet))
	assert.NoError(t, req.Failed(opGet))
	req.RequestCompleted()
	req.RequestFailed()
	req.Discard()
	assert.Equal(t, time.Duration(0), req.Duration())
	assert.Equal(t, OutcomeDiscarded, req.Outcome())

	var set *RequestSet
	set.Add(req)
	assert.NoError(t, set.Succeeded(opGet))
	assert.Equal(t, 0, set.Len())
}

func TestRequestCompletedSeparatesResponseTime(t *testing.T) {
	b, mock := newMockBasic()
	b.Begin()

	req := b.StartRequest()
	mock.Add(time.Millisecond)
	req.RequestCompleted()
	mock.Add(9 * time.Millisecond)
	require.NoError(t, req.Succeeded(opPut))

	assert.Equal(t, time.Millisecond, req.ResponseTime())
	assert.Equal(t, 10*time.Millisecond, req.Duration())
}

func TestRequestFailedIsNotRecorded(t *testing.T) {
	b, _ := newMockBasic()
	b.Begin()

	req := b.StartRequest()
	req.RequestFailed()

	assert.Equal(t, OutcomeFailed, req.Outcome())
	assert.ErrorIs(t, req.Succeeded(opGet), ErrRequestTerminated)
	assert.Empty(t, b.Operations())
}

func TestDiscard(t *testing.T) {
	b, _ := newMockBasic()
	b.Begin()

	req := b.StartRequest()
	req.Discard()
	assert.ErrorIs(t, req.Succeeded(opGet), ErrRequestTerminated)
	assert.Empty(t, b.Operations())
}

func TestRequestSet(t *testing.T) {
	b, mock := newMockBasic()
	b.Begin()
	tx := operation.Transaction

	set := b.RequestSet()
	for range 3 {
		req := b.StartRequest()
		mock.Add(2 * time.Millisecond)
		require.NoError(t, req.Succeeded(opGet))
		set.Add(req)
	}

	assert.Equal(t, 3, set.Len())
	assert.True(t, set.IsSuccessful())
	assert.Equal(t, 6*time.Millisecond, set.SumDurations())

	require.NoError(t, set.Succeeded(tx))
	assert.ErrorIs(t, set.Failed(tx), ErrRequestTerminated)

	snap, ok := b.OperationStats(tx)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Requests)
	assert.Equal(t, 6*time.Millisecond, snap.Max)
}

func TestRequestSetFailed(t *testing.T) {
	b, _ := newMockBasic()
	b.Begin()

	set := b.RequestSet()
	req := b.StartRequest()
	require.NoError(t, req.Failed(opGet))
	set.Add(req)
	assert.False(t, set.IsSuccessful())

	require.NoError(t, set.Failed(operation.Transaction))
	snap, _ := b.OperationStats(operation.Transaction)
	assert.Equal(t, uint64(1), snap.Errors)
}

func TestMergeAndCopy(t *testing.T) {
	a, mockA := newMockBasic()
	a.Begin()
	require.NoError(t, a.RegisterRequest(2*time.Millisecond, opGet))
	require.NoError(t, a.RegisterRequest(4*time.Millisecond, opGet))
	mockA.Add(time.Second)
	a.End()

	b, _ := newMockBasic()
	b.Begin()
	require.NoError(t, b.RegisterRequest(6*time.Millisecond, opGet))
	require.NoError(t, b.RegisterError(time.Millisecond, opPut))
	b.End()

	c := a.Copy().(*Basic)
	require.NoError(t, c.Merge(b))

	get, ok := c.OperationStats(opGet)
	require.True(t, ok)
	assert.Equal(t, uint64(3), get.Requests)
	assert.Equal(t, 4*time.Millisecond, get.Mean)
	assert.Equal(t, 6*time.Millisecond, get.Max)
	assert.Equal(t, 2*time.Millisecond, get.StdDev)

	put, ok := c.OperationStats(opPut)
	require.True(t, ok)
	assert.Equal(t, uint64(1), put.Errors)

	// merge leaves its sources untouched
	orig, _ := a.OperationStats(opGet)
	assert.Equal(t, uint64(2), orig.Requests)
	_, ok = a.OperationStats(opPut)
	assert.False(t, ok)

	assert.Equal(t, time.Second, c.Duration())
}

type otherStatistics struct {
	Statistics
}

func TestMergeIncompatible(t *testing.T) {
	b := New()
	assert.ErrorIs(t, b.Merge(otherStatistics{}), ErrIncompatible)
	assert.ErrorIs(t, b.Merge(b), ErrIncompatible)
}

func TestSnapshot(t *testing.T) {
	b, mock := newMockBasic()
	b.Begin()
	for i := 1; i <= 100; i++ {
		require.NoError(t, b.RegisterRequest(time.Duration(i)*time.Millisecond, opGet))
	}
	require.NoError(t, b.RegisterError(time.Millisecond, opPut))
	mock.Add(10 * time.Second)
	b.End()

	snap := b.Snapshot()
	assert.Equal(t, 10*time.Second, snap.Duration)
	require.Len(t, snap.Operations, 2)
	assert.Equal(t, "GET", snap.Operations[0].Operation)
	assert.Equal(t, "PUT", snap.Operations[1].Operation)
	assert.Equal(t, 100*time.Millisecond, snap.Operations[0].P99)
	assert.InDelta(t, 10.0, snap.Operations[0].Throughput, 0.001)
	assert.InDelta(t, 0.0, snap.Operations[1].Throughput, 0.001)
}

func TestLatencySamplesBounded(t *testing.T) {
	config := DefaultConfig()
	config.MaxLatencySamples = 10
	b := NewWithConfig(config)
	b.Begin()

	for range 100 {
		require.NoError(t, b.RegisterRequest(time.Millisecond, opGet))
	}
	assert.Len(t, b.ops[opGet].samples, 10)
}

func TestConcurrentRegister(t *testing.T) {
	b := New()
	b.Begin()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				req := b.StartRequest()
				_ = req.Succeeded(opGet)
			}
		}()
	}
	wg.Wait()

	snap, ok := b.OperationStats(opGet)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), snap.Requests)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "pending", OutcomePending.String())
	assert.Equal(t, "succeeded", OutcomeSucceeded.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "discarded", OutcomeDiscarded.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

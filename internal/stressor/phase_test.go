package stressor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseObserve(t *testing.T) {
	test := &fakeTest{}
	p := NewPhase()

	assert.False(t, p.Observe(test))
	st, release := p.Acquire()
	assert.Nil(t, st)
	release()

	test.steady.Store(true)
	assert.True(t, p.Observe(test))
	assert.True(t, p.Active())
	assert.Equal(t, uint64(1), p.Activations())

	st, release = p.Acquire()
	require.NotNil(t, st)
	assert.Same(t, test.created[0], st)
	assert.Equal(t, int32(1), test.created[0].begins.Load())
	release()

	// 同じ状態の再観測では何もしない
	p.Observe(test)
	assert.Equal(t, 1, test.createdCount())

	test.steady.Store(false)
	assert.False(t, p.Observe(test))
	assert.False(t, p.Active())
	require.Equal(t, 1, test.recordedCount())
	assert.Equal(t, int32(1), test.recorded[0].ends.Load())
}

func TestPhaseConcurrentObserve(t *testing.T) {
	test := &fakeTest{}
	p := NewPhase()

	for cycle := range 5 {
		for _, steady := range []bool{true, false} {
			test.steady.Store(steady)
			var wg sync.WaitGroup
			for range 64 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					p.Observe(test)
				}()
			}
			wg.Wait()
		}
		assert.Equal(t, cycle+1, test.createdCount())
		assert.Equal(t, cycle+1, test.recordedCount())
	}
}

func TestPhaseRetireWaitsForConversations(t *testing.T) {
	test := &fakeTest{}
	p := NewPhase()
	test.steady.Store(true)
	p.Observe(test)

	st, release := p.Acquire()
	require.NotNil(t, st)

	test.steady.Store(false)
	retired := make(chan struct{})
	go func() {
		p.Observe(test)
		close(retired)
	}()

	select {
	case <-retired:
		t.Fatal("phase retired while a conversation was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, test.recordedCount())

	release()
	select {
	case <-retired:
	case <-time.After(5 * time.Second):
		t.Fatal("phase was not retired")
	}
	assert.Equal(t, 1, test.recordedCount())
}

func TestPhaseRetire(t *testing.T) {
	test := &fakeTest{}
	p := NewPhase()

	// 非アクティブなら何もしない
	p.Retire(test)
	assert.Zero(t, test.recordedCount())

	test.steady.Store(true)
	p.Observe(test)
	p.Retire(test)
	assert.Equal(t, 1, test.recordedCount())
	assert.False(t, p.Active())
}

func TestPhaseLastMemberRetires(t *testing.T) {
	test := &fakeTest{}
	p := NewPhase()
	p.join()
	p.join()

	test.steady.Store(true)
	p.Observe(test)

	p.leave(test)
	assert.Zero(t, test.recordedCount())
	assert.Equal(t, 1, p.Members())

	p.leave(test)
	assert.Equal(t, 1, test.recordedCount())
	assert.Zero(t, p.Members())
}

package testrun

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"kvs-bench/internal/logger"
	"kvs-bench/internal/selector"
	"kvs-bench/internal/stressor"
)

// poolingSelector は待機中のストレッサー数を監視し、足りなければ追加する
type poolingSelector struct {
	test  *Test
	inner *selector.Selector[stressor.Conversation]

	mu        sync.Mutex
	executing map[string]*atomic.Int32
}

func newPoolingSelector(test *Test, inner *selector.Selector[stressor.Conversation]) *poolingSelector {
	return &poolingSelector{
		test:      test,
		inner:     inner,
		executing: make(map[string]*atomic.Int32),
	}
}

// Next は次の会話を返す
func (p *poolingSelector) Next(ctx context.Context) (stressor.Conversation, error) {
	conv, err := p.inner.Next(ctx)
	if err != nil {
		// 中断されたストレッサーは待機中のまま
		return nil, err
	}

	executing := p.counter(conv)
	executing.Add(1)
	waiting := p.test.waiting.Add(-1)
	p.maybeAddStressor(int(waiting))

	return &tracked{
		Conversation: conv,
		executing:    executing,
		waiting:      &p.test.waiting,
	}, nil
}

func (p *poolingSelector) counter(conv stressor.Conversation) *atomic.Int32 {
	name := conversationName(conv)

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.executing[name]
	if !ok {
		c = &atomic.Int32{}
		p.executing[name] = c
	}
	return c
}

// Executing は会話ごとの実行中ストレッサー数を返す
func (p *poolingSelector) Executing() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make(map[string]int, len(p.executing))
	for name, c := range p.executing {
		result[name] = int(c.Load())
	}
	return result
}

func (p *poolingSelector) maybeAddStressor(waiting int) {
	t := p.test
	if t.config.MinWaitingStressors <= 0 || waiting > t.config.MinWaitingStressors || t.IsFinished() {
		return
	}

	now := t.clock.Now().UnixNano()
	delay := t.config.MinStressorCreationDelay.Nanoseconds()
	for {
		last := t.lastCreated.Load()
		if last+delay >= now {
			return
		}
		if t.lastCreated.CompareAndSwap(last, now) {
			break
		}
	}

	logger.Info("", "%3d stressors waiting", waiting)
	executing := p.Executing()
	names := make([]string, 0, len(executing))
	for name := range executing {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Info("", "%3d stressors executing %s", executing[name], name)
	}
	t.addStressor(false)
}

// tracked は実行中の会話を数える
type tracked struct {
	stressor.Conversation
	executing *atomic.Int32
	waiting   *atomic.Int32
}

func (c *tracked) Run(ctx context.Context, s *stressor.Stressor) error {
	defer func() {
		c.executing.Add(-1)
		c.waiting.Add(1)
	}()
	return c.Conversation.Run(ctx, s)
}

func conversationName(conv stressor.Conversation) string {
	switch c := conv.(type) {
	case interface{ Name() string }:
		return c.Name()
	case fmt.Stringer:
		return c.String()
	default:
		return fmt.Sprintf("%T", conv)
	}
}

package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeOrchestrator struct {
	calls atomic.Int64
}

func (f *fakeOrchestrator) Sweep() int {
	f.calls.Add(1)
	return 0
}

func TestSweeper_TicksUntilCancelled(t *testing.T) {
	orch := &fakeOrchestrator{}
	s := New(orch, nil)
	s.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	err := <-done

	assert.NoError(t, err)
	assert.True(t, orch.calls.Load() > 0)
}

type panicOrchestrator struct {
	calls atomic.Int64
}

func (p *panicOrchestrator) Sweep() int {
	p.calls.Add(1)
	panic("boom")
}

func TestSweeper_SwallowsPanicsAndKeepsTicking(t *testing.T) {
	orch := &panicOrchestrator{}
	s := New(orch, nil)
	s.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-done
	assert.NoError(t, err)
	assert.True(t, orch.calls.Load() > 1, "sweeper must keep ticking after a panic")
}

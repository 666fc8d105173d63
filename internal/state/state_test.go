package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/durable-consumer/durable-consumer/internal/config"
)

func newTestState(t *testing.T) *SharedState {
	t.Helper()
	return New(config.DefaultConfig(), zaptest.NewLogger(t))
}

func TestNewState(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Worker.QueueSize = 25
	s := New(cfg, zaptest.NewLogger(t))

	assert.True(t, s.Running())
	assert.Equal(t, 25, cap(s.Processing))
	assert.NotNil(t, s.Audit)

	cfg.Audit.Enabled = false
	assert.Nil(t, New(cfg, zaptest.NewLogger(t)).Audit)
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestState(t)
	first := errors.New("first")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 0 {
				s.Stop(first)
				return
			}
			s.Stop(nil)
		}(i)
	}
	wg.Wait()

	assert.False(t, s.Running())
	assert.True(t, Fired(s.Done()))
	// 只有一次Stop生效
	cause := s.Cause()
	assert.True(t, cause == nil || cause == first)

	s.Stop(errors.New("later"))
	assert.Equal(t, cause, s.Cause())
}

func TestSpawnRecoversPanic(t *testing.T) {
	s := newTestState(t)

	u := s.Spawn(RoleWorker, "worker-0", func() { panic("boom") })
	require.True(t, u.Join(time.Second))

	assert.False(t, s.Running())
	assert.Contains(t, s.Cause().Error(), "worker-0 crashed")
	assert.Len(t, s.Units(RoleWorker), 1)
}

func TestSettleSignals(t *testing.T) {
	s := newTestState(t)
	assert.False(t, Fired(s.WorkersSettled()))
	s.SettleWorkers()
	s.SettleWorkers()
	assert.True(t, Fired(s.WorkersSettled()))
	assert.False(t, Fired(s.PollerSettled()))
}

func TestJoinSharedBudget(t *testing.T) {
	s := newTestState(t)
	block := make(chan struct{})
	defer close(block)

	s.Spawn(RoleWorker, "worker-1", func() { time.Sleep(20 * time.Millisecond) })
	s.Spawn(RoleWorker, "worker-2", func() { time.Sleep(40 * time.Millisecond) })
	s.Spawn(RoleWorker, "worker-3", func() { <-block })

	budget := 200 * time.Millisecond
	start := time.Now()
	alive := JoinShared(s.Units(RoleWorker), budget)
	elapsed := time.Since(start)

	assert.Equal(t, 1, alive)
	assert.GreaterOrEqual(t, elapsed, budget-10*time.Millisecond)
	// 预算是共享的，不是每个worker各自一份
	assert.Less(t, elapsed, 2*budget)
}

func TestJoinSharedAllFinish(t *testing.T) {
	s := newTestState(t)
	for i := 0; i < 5; i++ {
		s.Spawn(RoleWorker, "w", func() {})
	}
	start := time.Now()
	assert.Equal(t, 0, JoinShared(s.Units(RoleWorker), time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

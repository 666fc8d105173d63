package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer/consumertest"
	"github.com/durable-consumer/durable-consumer/internal/processor"
	"github.com/durable-consumer/durable-consumer/internal/state"
)

type categorized struct{}

func (categorized) Error() string    { return "upstream rejected record" }
func (categorized) Category() string { return "UpstreamRejected" }

func newState(queueSize int) *state.SharedState {
	cfg := config.DefaultConfig()
	cfg.Worker.QueueSize = queueSize
	return state.New(cfg, zap.NewNop())
}

func testOptions(count int) Options {
	return Options{
		Count:          count,
		MaxMessageSize: 16,
		GetTimeout:     10 * time.Millisecond,
	}
}

// runAll 填充队列后停止，启动worker并等待它们清空队列
func runAll(t *testing.T, s *state.SharedState, proc processor.Processor, opts Options, values ...string) *Pool {
	t.Helper()
	for i, v := range values {
		s.Processing <- consumertest.Msg("t", 0, int64(i), v)
	}
	s.Stop(nil)

	pool := NewPool(s, proc, opts, zap.NewNop())
	units := pool.Start()
	require.Zero(t, state.JoinShared(units, 2*time.Second), "workers did not exit")
	return pool
}

func marks(s *state.SharedState) map[int64]state.Outcome {
	out := make(map[int64]state.Outcome)
	for _, m := range s.Processed.Drain() {
		out[m.Offset] = m.Outcome
	}
	return out
}

func TestPoolSuccess(t *testing.T) {
	s := newState(10)
	pool := runAll(t, s, processor.Func(func(context.Context, []byte) error { return nil }),
		testOptions(2), "a", "b", "c")

	assert.Equal(t, map[int64]state.Outcome{
		0: state.OutcomeSuccess, 1: state.OutcomeSuccess, 2: state.OutcomeSuccess,
	}, marks(s))
	assert.True(t, s.DeadLetters.Empty())
	assert.Equal(t, Stats{Processed: 3}, pool.Stats())
}

func TestPoolFailureProducesOneDeadLetterAndOneMark(t *testing.T) {
	s := newState(10)
	proc := processor.Func(func(_ context.Context, v []byte) error {
		if string(v) == "bad" {
			return errors.New("boom")
		}
		return nil
	})
	pool := runAll(t, s, proc, testOptions(1), "ok", "bad")

	dl := s.DeadLetters.Drain()
	require.Len(t, dl, 1)
	assert.Equal(t, int64(1), dl[0].Message.Offset)
	assert.Equal(t, "ProcessorError", dl[0].ErrorType)
	assert.Equal(t, "boom", dl[0].ErrorMessage)
	assert.Zero(t, dl[0].RetryCount)

	processed := s.Processed.Drain()
	require.Len(t, processed, 2)
	assert.Equal(t, map[int64]state.Outcome{0: state.OutcomeSuccess, 1: state.OutcomeFailed},
		map[int64]state.Outcome{processed[0].Offset: processed[0].Outcome, processed[1].Offset: processed[1].Outcome})
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, pool.Stats())
}

func TestPoolOversizeSkipsProcessor(t *testing.T) {
	s := newState(10)
	var calls atomic.Int32
	proc := processor.Func(func(context.Context, []byte) error {
		calls.Add(1)
		return nil
	})
	runAll(t, s, proc, testOptions(1), "this value is longer than sixteen bytes")

	assert.Zero(t, calls.Load())
	dl := s.DeadLetters.Drain()
	require.Len(t, dl, 1)
	assert.Equal(t, "MessageTooLarge", dl[0].ErrorType)
	assert.Equal(t, map[int64]state.Outcome{0: state.OutcomeFailed}, marks(s))
}

func TestPoolRecoversPanic(t *testing.T) {
	s := newState(10)
	proc := processor.Func(func(context.Context, []byte) error { panic("nil map write") })
	runAll(t, s, proc, testOptions(1), "x")

	dl := s.DeadLetters.Drain()
	require.Len(t, dl, 1)
	assert.Equal(t, "ProcessorPanic", dl[0].ErrorType)
	assert.Contains(t, dl[0].ErrorMessage, "nil map write")
	assert.NotEmpty(t, dl[0].StackTrace)
	assert.Equal(t, map[int64]state.Outcome{0: state.OutcomeFailed}, marks(s))
}

func TestPoolProcessingTimeout(t *testing.T) {
	s := newState(10)
	release := make(chan struct{})
	defer close(release)
	proc := processor.Func(func(context.Context, []byte) error {
		<-release
		return nil
	})

	opts := testOptions(1)
	opts.ProcessingTimeout = 20 * time.Millisecond
	runAll(t, s, proc, opts, "slow")

	dl := s.DeadLetters.Drain()
	require.Len(t, dl, 1)
	assert.Equal(t, "ProcessingTimeout", dl[0].ErrorType)
	assert.GreaterOrEqual(t, dl[0].ProcessingTime, 20*time.Millisecond)
}

func TestPoolTimeoutNotHitWhenFast(t *testing.T) {
	s := newState(10)
	opts := testOptions(1)
	opts.ProcessingTimeout = time.Second
	runAll(t, s, processor.Func(func(context.Context, []byte) error { return nil }), opts, "fast")

	assert.True(t, s.DeadLetters.Empty())
	assert.Equal(t, map[int64]state.Outcome{0: state.OutcomeSuccess}, marks(s))
}

func TestPoolProcessorCategory(t *testing.T) {
	s := newState(10)
	runAll(t, s, processor.Func(func(context.Context, []byte) error { return categorized{} }), testOptions(1), "x")

	dl := s.DeadLetters.Drain()
	require.Len(t, dl, 1)
	assert.Equal(t, "UpstreamRejected", dl[0].ErrorType)
}

func TestPoolDrainsQueueAfterStop(t *testing.T) {
	s := newState(100)
	values := make([]string, 50)
	for i := range values {
		values[i] = "v"
	}
	pool := runAll(t, s, processor.Func(func(context.Context, []byte) error {
		time.Sleep(time.Millisecond)
		return nil
	}), testOptions(4), values...)

	assert.Len(t, marks(s), 50)
	assert.Zero(t, len(s.Processing))
	assert.Equal(t, int64(50), pool.Stats().Processed)
}

func TestPoolWaitsWhileRunning(t *testing.T) {
	s := newState(10)
	pool := NewPool(s, processor.Func(func(context.Context, []byte) error { return nil }), testOptions(2), zap.NewNop())
	units := pool.Start()
	assert.Len(t, s.Units(state.RoleWorker), 2)

	time.Sleep(30 * time.Millisecond)
	for _, u := range units {
		assert.True(t, u.Alive(), "idle workers keep running until stopped")
	}

	s.Processing <- consumertest.Msg("t", 3, 7, "late")
	require.Eventually(t, func() bool { return pool.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)

	s.Stop(nil)
	assert.Zero(t, state.JoinShared(units, time.Second))
}

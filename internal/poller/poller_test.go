package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer"
	"github.com/durable-consumer/durable-consumer/internal/consumer/consumertest"
	"github.com/durable-consumer/durable-consumer/internal/state"
)

func setup(queueSize int, mutate func(*config.Config)) (*state.SharedState, *consumertest.Broker) {
	cfg := config.DefaultConfig()
	cfg.Worker.QueueSize = queueSize
	if mutate != nil {
		mutate(cfg)
	}
	return state.New(cfg, zap.NewNop()), consumertest.New()
}

func testOptions() Options {
	return Options{
		PollTimeout:  10 * time.Millisecond,
		MaxRecords:   100,
		PutTimeout:   20 * time.Millisecond,
		ErrorBackoff: 5 * time.Millisecond,
	}
}

func start(p *Poller) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()
	return done
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("polling loop did not stop")
	}
}

func drainQueue(ch chan *consumer.Message) []*consumer.Message {
	var out []*consumer.Message
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func accounted(st Stats) int64 {
	return st.Enqueued + st.Dropped + st.Abandoned + st.Unread
}

func TestPollerBackpressureDrop(t *testing.T) {
	s, b := setup(3, nil)
	b.AddBatch(
		consumertest.Msg("t", 0, 0, "a"),
		consumertest.Msg("t", 0, 1, "b"),
		consumertest.Msg("t", 1, 0, "c"),
		consumertest.Msg("t", 1, 1, "d"),
		consumertest.Msg("t", 1, 2, "e"),
	)

	p := New(s, b, testOptions(), zap.NewNop())
	done := start(p)

	require.Eventually(t, func() bool { return p.Stats().Dropped == 2 }, time.Second, 5*time.Millisecond)
	s.Stop(nil)
	wait(t, done)

	st := p.Stats()
	assert.Equal(t, int64(5), st.Polled)
	assert.Equal(t, int64(3), st.Enqueued)
	assert.Equal(t, st.Polled, accounted(st))
	assert.Len(t, drainQueue(s.Processing), 3)
}

func TestPollerPartitionOrder(t *testing.T) {
	s, b := setup(10, nil)
	b.AddBatch(
		consumertest.Msg("t", 2, 7, "x"),
		consumertest.Msg("t", 0, 3, "y"),
		consumertest.Msg("t", 2, 8, "z"),
	)

	p := New(s, b, testOptions(), zap.NewNop())
	done := start(p)
	require.Eventually(t, func() bool { return p.Stats().Enqueued == 3 }, time.Second, 5*time.Millisecond)
	s.Stop(nil)
	wait(t, done)

	got := drainQueue(s.Processing)
	require.Len(t, got, 3)
	assert.Equal(t, int32(0), got[0].Partition)
	assert.Equal(t, int64(7), got[1].Offset)
	assert.Equal(t, int64(8), got[2].Offset)
}

func TestPollerStopOffset(t *testing.T) {
	s, b := setup(10, nil)
	var msgs []*consumer.Message
	for i := int64(0); i < 5; i++ {
		msgs = append(msgs, consumertest.Msg("t", 0, i, "v"))
	}
	b.AddBatch(msgs...)
	b.AddBatch(consumertest.Msg("t", 0, 5, "never"))

	opts := testOptions()
	opts.StopOffsets = map[string]map[int32]int64{"t": {0: 3}}
	p := New(s, b, opts, zap.NewNop())
	wait(t, start(p))

	assert.False(t, s.Running())
	assert.ErrorIs(t, s.Cause(), ErrStopOffset)

	st := p.Stats()
	assert.Equal(t, int64(3), st.Enqueued)
	assert.Equal(t, int64(2), st.Unread)
	assert.Equal(t, st.Polled, accounted(st))
	assert.Equal(t, 1, b.Pending(), "no poll after stop offset")
	assert.Equal(t, 3, s.Audit.Len(), "offsets at or past the target are not audited")
}

func TestPollerAbandonsOnShutdown(t *testing.T) {
	s, b := setup(1, nil)
	b.AddBatch(
		consumertest.Msg("t", 0, 0, "a"),
		consumertest.Msg("t", 0, 1, "b"),
		consumertest.Msg("t", 0, 2, "c"),
	)

	opts := testOptions()
	opts.PutTimeout = time.Minute
	p := New(s, b, opts, zap.NewNop())
	done := start(p)

	require.Eventually(t, func() bool { return p.Stats().Enqueued == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.Stop(nil)
	wait(t, done)

	st := p.Stats()
	assert.Equal(t, int64(1), st.Abandoned)
	assert.Equal(t, int64(1), st.Unread)
	assert.Equal(t, int64(0), st.Dropped)
	assert.Equal(t, st.Polled, accounted(st))
}

func TestPollerAuditQueueFull(t *testing.T) {
	s, b := setup(10, func(cfg *config.Config) { cfg.Audit.QueueSize = 1 })
	b.AddBatch(
		consumertest.Msg("t", 0, 0, "a"),
		consumertest.Msg("t", 0, 1, "b"),
	)

	p := New(s, b, testOptions(), zap.NewNop())
	done := start(p)
	require.Eventually(t, func() bool { return p.Stats().Enqueued == 2 }, time.Second, 5*time.Millisecond)
	s.Stop(nil)
	wait(t, done)

	st := p.Stats()
	assert.Equal(t, int64(1), st.AuditSkipped)
	assert.Equal(t, 1, s.Audit.Len())

	rec, ok := s.Audit.TryPop()
	require.True(t, ok)
	assert.Equal(t, int64(0), rec.Offset)
	assert.Equal(t, 1, rec.MessageSize)
}

func TestPollerAuditDisabled(t *testing.T) {
	s, b := setup(10, func(cfg *config.Config) { cfg.Audit.Enabled = false })
	b.AddBatch(consumertest.Msg("t", 0, 0, "a"))

	p := New(s, b, testOptions(), zap.NewNop())
	done := start(p)
	require.Eventually(t, func() bool { return p.Stats().Enqueued == 1 }, time.Second, 5*time.Millisecond)
	s.Stop(nil)
	wait(t, done)

	assert.Nil(t, s.Audit)
	assert.Equal(t, int64(0), p.Stats().AuditSkipped)
}

func TestPollerRecoversFromPollError(t *testing.T) {
	s, b := setup(10, nil)
	b.AddPollError(errors.New("broker transport failure"))
	b.AddBatch(consumertest.Msg("t", 0, 0, "a"))

	p := New(s, b, testOptions(), zap.NewNop())
	done := start(p)
	require.Eventually(t, func() bool { return p.Stats().Enqueued == 1 }, time.Second, 5*time.Millisecond)
	s.Stop(nil)
	wait(t, done)

	assert.Equal(t, int64(1), p.Stats().PollErrors)
	assert.NoError(t, s.Cause())
}

func TestFlatten(t *testing.T) {
	assert.Nil(t, flatten(nil))

	out := flatten(map[int32][]*consumer.Message{
		5: {consumertest.Msg("t", 5, 1, "")},
		1: {consumertest.Msg("t", 1, 9, ""), consumertest.Msg("t", 1, 10, "")},
	})
	require.Len(t, out, 3)
	assert.Equal(t, []int64{9, 10, 1}, []int64{out[0].Offset, out[1].Offset, out[2].Offset})
}

package offset

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer/consumertest"
	"github.com/durable-consumer/durable-consumer/internal/state"
)

func newCommitter(t *testing.T, dryRun bool) (*Committer, *state.SharedState, *consumertest.Broker) {
	t.Helper()
	log := zaptest.NewLogger(t)
	s := state.New(config.DefaultConfig(), log)
	b := consumertest.New()
	c := NewCommitter(s, b, Options{
		Interval:   40 * time.Millisecond,
		DrainSlice: 10 * time.Millisecond,
		DryRun:     dryRun,
	}, log)
	return c, s, b
}

func mark(s *state.SharedState, p int32, offsets ...int64) {
	for _, o := range offsets {
		s.Processed.TryPush(state.ProcessedMark{Partition: p, Offset: o, Outcome: state.OutcomeSuccess})
	}
}

func runCommitter(c *Committer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run()
	}()
	return done
}

func stopAndWait(t *testing.T, s *state.SharedState, done <-chan struct{}) {
	t.Helper()
	s.Stop(nil)
	s.SettleWorkers()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("commit loop did not stop")
	}
}

func TestCommitterStagesContiguousOnly(t *testing.T) {
	c, s, b := newCommitter(t, false)
	c.tracker.Apply(map[int32]int64{3: 100}) // last_committed = 99

	mark(s, 3, 100, 101, 102, 104)
	done := runCommitter(c)

	require.Eventually(t, func() bool { return len(b.Commits()) > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[int32]int64{3: 103}, b.Commits()[0])

	stopAndWait(t, s, done)
	assert.Equal(t, int64(103), b.Committed()[3], "104 waits for 103")
}

func TestCommitterRetainsOnFailure(t *testing.T) {
	c, s, b := newCommitter(t, false)
	b.SetCommitError(errors.New("coordinator not available"))

	mark(s, 0, 0, 1, 2)
	done := runCommitter(c)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, b.Commits())

	b.SetCommitError(nil)
	require.Eventually(t, func() bool { return b.Committed()[0] == 3 }, time.Second, 5*time.Millisecond)

	stopAndWait(t, s, done)
}

func TestCommitterFinalPassWaitsForWorkers(t *testing.T) {
	c, s, b := newCommitter(t, false)
	done := runCommitter(c)

	s.Stop(nil)
	// worker在停止后仍在清空队列
	time.Sleep(30 * time.Millisecond)
	mark(s, 1, 0, 1)
	select {
	case <-done:
		t.Fatal("commit loop exited before workers settled")
	case <-time.After(30 * time.Millisecond):
	}

	s.SettleWorkers()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("commit loop did not stop")
	}
	assert.Equal(t, map[int32]int64{1: 2}, b.Committed())
}

func TestCommitterDryRun(t *testing.T) {
	c, s, b := newCommitter(t, true)
	mark(s, 0, 0, 1, 2)
	done := runCommitter(c)

	time.Sleep(120 * time.Millisecond)
	mark(s, 0, 3)
	stopAndWait(t, s, done)

	assert.Empty(t, b.Commits())
	assert.True(t, c.tracker.Empty(), "tracking is cleared each cycle")
}

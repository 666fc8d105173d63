package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 5; i++ {
		require.True(t, q.TryPush(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}

func TestQueueCapacity(t *testing.T) {
	q := New[string](2)
	assert.True(t, q.TryPush("a"))
	assert.True(t, q.TryPush("b"))
	assert.False(t, q.TryPush("c"), "full queue rejects")

	_, _ = q.TryPop()
	assert.True(t, q.TryPush("c"))
}

func TestQueuePopTimeout(t *testing.T) {
	q := New[int](0)

	start := time.Now()
	_, ok := q.Pop(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.TryPush(7)
	}()
	v, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestQueueConcurrentConsumers(t *testing.T) {
	q := New[int](0)
	const total = 1000

	var (
		mu   sync.Mutex
		seen = make(map[int]bool)
		wg   sync.WaitGroup
	)
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Pop(50 * time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < total; i++ {
		q.TryPush(i)
	}
	wg.Wait()

	assert.Len(t, seen, total)
}

func TestQueueDrain(t *testing.T) {
	q := New[int](0)
	q.TryPush(1)
	q.TryPush(2)
	assert.Equal(t, []int{1, 2}, q.Drain())
	assert.Nil(t, q.Drain())
}

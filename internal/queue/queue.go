package queue

import (
	"sync"
	"time"
)

// Queue 并发安全的FIFO队列，capacity为0时不限制长度
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	notify   chan struct{}
}

// New 创建队列
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// TryPush 非阻塞写入，队列已满返回false
func (q *Queue[T]) TryPush(item T) bool {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// TryPop 非阻塞读取
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// 释放底层数组
		q.items = nil
	}
	return item, true
}

// Pop 阻塞读取，最多等待timeout
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	if item, ok := q.TryPop(); ok {
		return item, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if item, ok := q.TryPop(); ok {
				// 可能还有剩余元素，转发通知给其他等待者
				if q.Len() > 0 {
					select {
					case q.notify <- struct{}{}:
					default:
					}
				}
				return item, true
			}
		case <-timer.C:
			return q.TryPop()
		}
	}
}

// Drain 取出当前所有元素
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len 当前长度
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty 队列是否为空
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

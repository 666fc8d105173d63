// Package consumertest 提供内存版Broker，供其他包的测试使用
package consumertest

import (
	"context"
	"sync"
	"time"

	"github.com/durable-consumer/durable-consumer/internal/consumer"
)

var _ consumer.Broker = (*Broker)(nil)

// Broker 内存Broker，按顺序返回预置批次
type Broker struct {
	mu sync.Mutex

	batches   []map[int32][]*consumer.Message
	pollErrs  []error
	commits   []map[int32]int64
	commitErr error
	pingErr   error

	polls  int
	pings  int
	closed int
}

// New 创建内存Broker
func New() *Broker {
	return &Broker{}
}

// AddBatch 追加一个poll批次
func (b *Broker) AddBatch(msgs ...*consumer.Message) {
	batch := make(map[int32][]*consumer.Message)
	for _, m := range msgs {
		batch[m.Partition] = append(batch[m.Partition], m)
	}

	b.mu.Lock()
	b.batches = append(b.batches, batch)
	b.pollErrs = append(b.pollErrs, nil)
	b.mu.Unlock()
}

// AddPollError 追加一次返回错误的poll
func (b *Broker) AddPollError(err error) {
	b.mu.Lock()
	b.batches = append(b.batches, nil)
	b.pollErrs = append(b.pollErrs, err)
	b.mu.Unlock()
}

// SetCommitError 设置Commit返回的错误，nil表示成功
func (b *Broker) SetCommitError(err error) {
	b.mu.Lock()
	b.commitErr = err
	b.mu.Unlock()
}

// SetPingError 设置Ping返回的错误
func (b *Broker) SetPingError(err error) {
	b.mu.Lock()
	b.pingErr = err
	b.mu.Unlock()
}

func (b *Broker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pings++
	return b.pingErr
}

// Pings Ping被调用的次数
func (b *Broker) Pings() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pings
}

func (b *Broker) Poll(ctx context.Context, timeout time.Duration, maxRecords int) (map[int32][]*consumer.Message, error) {
	b.mu.Lock()
	b.polls++
	if len(b.batches) > 0 {
		batch, err := b.batches[0], b.pollErrs[0]
		b.batches = b.batches[1:]
		b.pollErrs = b.pollErrs[1:]
		b.mu.Unlock()
		return batch, err
	}
	b.mu.Unlock()

	// 没有数据时模拟poll超时
	wait := timeout
	if wait > 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
	return nil, nil
}

func (b *Broker) Commit(ctx context.Context, offsets map[int32]int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.commitErr != nil {
		return b.commitErr
	}
	cp := make(map[int32]int64, len(offsets))
	for p, o := range offsets {
		cp[p] = o
	}
	b.commits = append(b.commits, cp)
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
	return nil
}

// Commits 返回成功提交的记录
func (b *Broker) Commits() []map[int32]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[int32]int64(nil), b.commits...)
}

// Committed 返回每个分区最后一次提交的offset
func (b *Broker) Committed() map[int32]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[int32]int64)
	for _, c := range b.commits {
		for p, o := range c {
			out[p] = o
		}
	}
	return out
}

// Polls 返回Poll被调用的次数
func (b *Broker) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

// Closed 返回Close被调用的次数
func (b *Broker) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Pending 返回尚未被poll的批次数
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

// Msg 构造测试消息
func Msg(topic string, partition int32, offset int64, value string) *consumer.Message {
	return &consumer.Message{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       []byte("k"),
		Value:     []byte(value),
		Timestamp: time.Now().UnixMilli(),
	}
}

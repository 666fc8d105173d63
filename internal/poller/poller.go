package poller

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer"
	"github.com/durable-consumer/durable-consumer/internal/metrics"
	"github.com/durable-consumer/durable-consumer/internal/state"
	"github.com/durable-consumer/durable-consumer/pkg/utils"
)

// ErrStopOffset 消息到达配置的stop offset
var ErrStopOffset = errors.New("stop offset reached")

// Options 轮询参数
type Options struct {
	PollTimeout  time.Duration
	MaxRecords   int
	PutTimeout   time.Duration
	ErrorBackoff time.Duration
	// StopOffsets topic -> partition -> offset，到达或超过后停止
	StopOffsets map[string]map[int32]int64
}

// OptionsFromConfig 从配置构建参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollTimeout:  cfg.Kafka.PollTimeout(),
		MaxRecords:   cfg.Kafka.MaxPollRecords,
		PutTimeout:   cfg.Worker.QueuePutTimeout(),
		ErrorBackoff: cfg.Kafka.PollErrorBackoff(),
		StopOffsets:  cfg.StopOffsets(),
	}
}

// Stats 轮询计数，每条poll到的消息最终计入Enqueued、Dropped、Abandoned或Unread之一
type Stats struct {
	Batches      int64
	Polled       int64
	Enqueued     int64
	Dropped      int64
	Abandoned    int64
	Unread       int64
	AuditSkipped int64
	PollErrors   int64
}

// Poller 从broker拉取消息并分发到审计队列和处理队列
type Poller struct {
	state  *state.SharedState
	broker consumer.Broker
	opts   Options
	log    *zap.Logger

	batches      atomic.Int64
	polled       atomic.Int64
	enqueued     atomic.Int64
	dropped      atomic.Int64
	abandoned    atomic.Int64
	unread       atomic.Int64
	auditSkipped atomic.Int64
	pollErrors   atomic.Int64
}

// New 创建Poller
func New(s *state.SharedState, broker consumer.Broker, opts Options, log *zap.Logger) *Poller {
	return &Poller{
		state:  s,
		broker: broker,
		opts:   opts,
		log:    log,
	}
}

// Stats 返回当前计数
func (p *Poller) Stats() Stats {
	return Stats{
		Batches:      p.batches.Load(),
		Polled:       p.polled.Load(),
		Enqueued:     p.enqueued.Load(),
		Dropped:      p.dropped.Load(),
		Abandoned:    p.abandoned.Load(),
		Unread:       p.unread.Load(),
		AuditSkipped: p.auditSkipped.Load(),
		PollErrors:   p.pollErrors.Load(),
	}
}

// Run 轮询到运行标记清除
func (p *Poller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.state.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	p.log.Info("polling loop started",
		zap.Duration("poll_timeout", p.opts.PollTimeout),
		zap.Int("max_records", p.opts.MaxRecords),
	)
	defer func() {
		st := p.Stats()
		p.log.Info("polling loop stopped",
			zap.Int64("batches", st.Batches),
			zap.Int64("messages", st.Polled),
			zap.Int64("enqueued", st.Enqueued),
			zap.Int64("dropped", st.Dropped),
			zap.Int64("abandoned", st.Abandoned),
			zap.Int64("audit_skipped", st.AuditSkipped),
		)
	}()

	for p.state.Running() {
		batch, err := p.broker.Poll(ctx, p.opts.PollTimeout, p.opts.MaxRecords)
		if err != nil {
			p.pollErrors.Add(1)
			metrics.PollErrors.Inc()
			p.log.Error("poll failed", zap.Error(err))
		}

		if msgs := flatten(batch); len(msgs) > 0 {
			p.batches.Add(1)
			p.polled.Add(int64(len(msgs)))
			p.log.Debug("poll received messages",
				zap.Int64("batch", p.batches.Load()),
				zap.Int("count", len(msgs)),
			)
			if !p.dispatch(msgs) {
				return
			}
		}

		if err != nil && !utils.SleepContext(ctx, p.opts.ErrorBackoff, p.state.Done()) {
			return
		}
	}
}

// dispatch 分发一批消息，返回false表示轮询应立即结束
func (p *Poller) dispatch(msgs []*consumer.Message) bool {
	for i, msg := range msgs {
		metrics.MessagesPolled.WithLabelValues(msg.Topic).Inc()

		if target, ok := p.stopOffset(msg); ok && msg.Offset >= target {
			p.log.Info("reached stop offset",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Int64("target", target),
			)
			p.unread.Add(int64(len(msgs) - i))
			p.state.Stop(ErrStopOffset)
			return false
		}

		p.audit(msg)

		if !p.enqueue(msg) {
			p.unread.Add(int64(len(msgs) - i - 1))
			return false
		}
	}
	return true
}

func (p *Poller) stopOffset(msg *consumer.Message) (int64, bool) {
	if p.opts.StopOffsets == nil {
		return 0, false
	}
	target, ok := p.opts.StopOffsets[msg.Topic][msg.Partition]
	return target, ok
}

// audit 非阻塞写入审计队列，队列满时只跳过审计
func (p *Poller) audit(msg *consumer.Message) {
	q := p.state.Audit
	if q == nil {
		return
	}

	rec := state.AuditRecord{
		Timestamp:   time.Now(),
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Key:         msg.Key,
		Value:       msg.Value,
		MessageSize: len(msg.Value),
	}
	if !q.TryPush(rec) {
		p.auditSkipped.Add(1)
		metrics.MessagesDropped.WithLabelValues("audit_queue_full").Inc()
		p.log.Warn("audit queue full, skipping audit record",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
	}
}

// enqueue 阻塞写入处理队列；超时丢弃并继续，运行标记清除时放弃并返回false
func (p *Poller) enqueue(msg *consumer.Message) bool {
	select {
	case p.state.Processing <- msg:
		p.enqueued.Add(1)
		metrics.MessagesEnqueued.Inc()
		metrics.ProcessingQueueDepth.Set(float64(len(p.state.Processing)))
		return true
	default:
	}

	timer := time.NewTimer(p.opts.PutTimeout)
	defer timer.Stop()

	select {
	case p.state.Processing <- msg:
		p.enqueued.Add(1)
		metrics.MessagesEnqueued.Inc()
		metrics.ProcessingQueueDepth.Set(float64(len(p.state.Processing)))
		return true

	case <-timer.C:
		p.dropped.Add(1)
		metrics.MessagesDropped.WithLabelValues("backpressure").Inc()
		p.log.Error("processing queue full after put timeout, dropping message (data loss)",
			zap.Duration("put_timeout", p.opts.PutTimeout),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
		return true

	case <-p.state.Done():
		// 未提交，重启后会重新投递
		p.abandoned.Add(1)
		metrics.MessagesDropped.WithLabelValues("shutdown").Inc()
		p.log.Warn("shutdown while waiting for queue space, abandoning message",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
		return false
	}
}

// flatten 按分区编号顺序展开，分区内保持offset顺序
func flatten(batch map[int32][]*consumer.Message) []*consumer.Message {
	if len(batch) == 0 {
		return nil
	}

	partitions := make([]int32, 0, len(batch))
	n := 0
	for p, msgs := range batch {
		partitions = append(partitions, p)
		n += len(msgs)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	out := make([]*consumer.Message, 0, n)
	for _, p := range partitions {
		out = append(out, batch[p]...)
	}
	return out
}

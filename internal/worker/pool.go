package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer"
	"github.com/durable-consumer/durable-consumer/internal/metrics"
	"github.com/durable-consumer/durable-consumer/internal/processor"
	"github.com/durable-consumer/durable-consumer/internal/state"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

// Options worker参数
type Options struct {
	Count             int
	MaxMessageSize    int
	ProcessingTimeout time.Duration // 0表示不限制
	GetTimeout        time.Duration
}

// OptionsFromConfig 从配置构建参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Count:             cfg.Worker.Count,
		MaxMessageSize:    cfg.Worker.MaxMessageSize,
		ProcessingTimeout: cfg.Worker.ProcessingTimeout(),
		GetTimeout:        cfg.Worker.QueueGetTimeout(),
	}
}

// Stats worker池计数
type Stats struct {
	Processed int64
	Failed    int64
}

// Pool 固定数量的worker，从处理队列取消息并调用处理器
type Pool struct {
	state *state.SharedState
	proc  processor.Processor
	opts  Options
	log   *zap.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// NewPool 创建worker池
func NewPool(s *state.SharedState, proc processor.Processor, opts Options, log *zap.Logger) *Pool {
	return &Pool{
		state: s,
		proc:  proc,
		opts:  opts,
		log:   log,
	}
}

// Start 启动所有worker并登记到共享状态
func (p *Pool) Start() []*state.Unit {
	units := make([]*state.Unit, 0, p.opts.Count)
	for i := 0; i < p.opts.Count; i++ {
		id := i
		units = append(units, p.state.Spawn(state.RoleWorker, fmt.Sprintf("worker-%d", id), func() {
			p.run(id)
		}))
	}
	p.log.Info("workers started", zap.Int("count", p.opts.Count))
	return units
}

// Stats 返回所有worker的累计计数
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// run 单个worker循环，运行标记清除且队列为空时退出
func (p *Pool) run(id int) {
	log := p.log.With(zap.Int("worker_id", id))
	log.Debug("worker started")

	var processed, failed int
	defer func() {
		log.Info("worker stopped", zap.Int("processed", processed), zap.Int("failed", failed))
	}()

	timer := time.NewTimer(p.opts.GetTimeout)
	defer timer.Stop()

	for {
		var msg *consumer.Message

		select {
		case msg = <-p.state.Processing:
		default:
			if !p.state.Running() {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.opts.GetTimeout)

			select {
			case msg = <-p.state.Processing:
			case <-timer.C:
				continue
			case <-p.state.Done():
				// 停止后继续清空队列
				continue
			}
		}

		metrics.ProcessingQueueDepth.Set(float64(len(p.state.Processing)))
		if p.handle(log, msg) {
			processed++
		} else {
			failed++
		}
	}
}

// handle 处理一条消息并产生处理标记，返回是否成功
func (p *Pool) handle(log *zap.Logger, msg *consumer.Message) bool {
	start := time.Now()

	r := result{err: p.checkSize(msg)}
	if r.err == nil {
		r = p.invoke(msg)
	}
	err := r.err
	elapsed := time.Since(start)
	metrics.ProcessingDuration.Observe(elapsed.Seconds())

	if err == nil {
		log.Debug("message processed",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("elapsed", elapsed),
		)
		p.processed.Add(1)
		metrics.MessagesProcessed.WithLabelValues(string(state.OutcomeSuccess)).Inc()
		p.mark(msg, state.OutcomeSuccess)
		return true
	}

	category := errors.Category(err)
	log.Warn("message processing failed",
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("error_type", category),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)

	p.state.DeadLetters.TryPush(state.DeadLetterEntry{
		Message:        msg,
		ErrorType:      category,
		ErrorMessage:   err.Error(),
		StackTrace:     r.stack,
		ProcessingTime: elapsed,
	})
	p.failed.Add(1)
	metrics.ProcessingFailures.WithLabelValues(category).Inc()
	metrics.MessagesProcessed.WithLabelValues(string(state.OutcomeFailed)).Inc()
	p.mark(msg, state.OutcomeFailed)
	return false
}

func (p *Pool) checkSize(msg *consumer.Message) error {
	if p.opts.MaxMessageSize > 0 && len(msg.Value) > p.opts.MaxMessageSize {
		return errors.Newf(errors.ErrCodeMessageTooLarge,
			"message size %d exceeds max %d", len(msg.Value), p.opts.MaxMessageSize)
	}
	return nil
}

type result struct {
	err   error
	stack string
}

// invoke 调用处理器；设置超时时在辅助goroutine中运行，超时后不再等待结果
func (p *Pool) invoke(msg *consumer.Message) result {
	if p.opts.ProcessingTimeout <= 0 {
		return p.call(context.Background(), msg.Value)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ProcessingTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		done <- p.call(ctx, msg.Value)
	}()

	timer := time.NewTimer(p.opts.ProcessingTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r
	case <-timer.C:
		p.log.Warn("processing timeout exceeded",
			zap.Duration("timeout", p.opts.ProcessingTimeout),
			zap.Int64("offset", msg.Offset),
		)
		return result{err: errors.Newf(errors.ErrCodeProcessTimeout,
			"processing exceeded timeout of %s", p.opts.ProcessingTimeout)}
	}
}

func (p *Pool) call(ctx context.Context, value []byte) (r result) {
	defer func() {
		if rec := recover(); rec != nil {
			r = result{
				err:   errors.Newf(errors.ErrCodeProcessPanic, "processor panic: %v", rec),
				stack: string(debug.Stack()),
			}
		}
	}()
	return result{err: p.proc.Process(ctx, value)}
}

func (p *Pool) mark(msg *consumer.Message, outcome state.Outcome) {
	p.state.Processed.TryPush(state.ProcessedMark{
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Outcome:   outcome,
	})
}

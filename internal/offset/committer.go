package offset

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer"
	"github.com/durable-consumer/durable-consumer/internal/metrics"
	"github.com/durable-consumer/durable-consumer/internal/state"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

const (
	defaultDrainSlice    = 100 * time.Millisecond
	defaultCommitTimeout = 5 * time.Second
)

// Options commit loop参数
type Options struct {
	Interval      time.Duration
	DrainSlice    time.Duration
	CommitTimeout time.Duration
	DryRun        bool
}

// OptionsFromConfig 从配置构建参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:      cfg.Commit.Interval(),
		DrainSlice:    defaultDrainSlice,
		CommitTimeout: defaultCommitTimeout,
		DryRun:        cfg.Commit.DryRun,
	}
}

// Committer 周期性计算最大连续offset并提交
type Committer struct {
	state   *state.SharedState
	broker  consumer.Broker
	opts    Options
	log     *zap.Logger
	tracker *Tracker

	commits int
	drained int
}

// NewCommitter 创建commit loop
func NewCommitter(s *state.SharedState, broker consumer.Broker, opts Options, log *zap.Logger) *Committer {
	if opts.DrainSlice <= 0 {
		opts.DrainSlice = defaultDrainSlice
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = defaultCommitTimeout
	}
	return &Committer{
		state:   s,
		broker:  broker,
		opts:    opts,
		log:     log,
		tracker: NewTracker(),
	}
}

// Run 运行到运行标记清除，然后等待worker结束做最后一次提交
func (c *Committer) Run() {
	c.log.Info("commit loop started", zap.Duration("interval", c.opts.Interval))
	if c.opts.DryRun {
		c.log.Warn("dry-run mode enabled, no offsets will be committed")
	}

	for c.state.Running() {
		c.drainInterval()
		if c.tracker.Empty() {
			continue
		}
		if c.opts.DryRun {
			c.dryRun()
			continue
		}
		c.commit()
	}

	// worker可能还在清空处理队列
	c.drainUntilSettled()

	if !c.tracker.Empty() {
		if c.opts.DryRun {
			c.dryRun()
		} else {
			c.log.Info("performing final commit before shutdown")
			c.commit()
		}
	}

	c.log.Info("commit loop stopped",
		zap.Int("commits", c.commits),
		zap.Int("marks_drained", c.drained),
		zap.Int("pending_offsets", c.tracker.Pending()),
	)
}

// drainInterval 在一个提交间隔内分片休眠并收集处理标记
func (c *Committer) drainInterval() {
	iterations := int(c.opts.Interval / c.opts.DrainSlice)
	if iterations < 1 {
		iterations = 1
	}

	for i := 0; i < iterations; i++ {
		if !c.state.Running() {
			return
		}
		c.drainAvailable()

		select {
		case <-time.After(c.opts.DrainSlice):
		case <-c.state.Done():
			return
		}
	}
}

func (c *Committer) drainUntilSettled() {
	settled := c.state.WorkersSettled()
	for {
		c.drainAvailable()
		if state.Fired(settled) {
			c.drainAvailable()
			return
		}
		select {
		case <-settled:
		case <-time.After(c.opts.DrainSlice):
		}
	}
}

func (c *Committer) drainAvailable() {
	marks := c.state.Processed.Drain()
	for _, m := range marks {
		c.tracker.Mark(m.Partition, m.Offset)
	}
	c.drained += len(marks)
	if len(marks) > 0 {
		c.log.Debug("drained processed marks", zap.Int("count", len(marks)))
	}
	metrics.PendingOffsets.Set(float64(c.tracker.Pending()))
}

// commit 计算并提交所有有进展的分区；失败时保留状态下次重试
func (c *Committer) commit() {
	staged := c.tracker.Stage()
	if len(staged) == 0 {
		c.log.Debug("no new offsets to commit", zap.Int("pending", c.tracker.Pending()))
		return
	}

	for p, next := range staged {
		c.log.Debug("staging commit",
			zap.Int32("partition", p),
			zap.Int64("last_committed", c.tracker.LastCommitted(p)),
			zap.Int64("commit", next),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.CommitTimeout)
	defer cancel()

	if err := c.broker.Commit(ctx, staged); err != nil {
		metrics.CommitTotal.WithLabelValues("failed").Inc()
		if errors.IsRetryable(err) {
			c.log.Warn("failed to commit offsets, retrying next interval",
				zap.Any("offsets", staged),
				zap.Error(err),
			)
		} else {
			c.log.Error("failed to commit offsets",
				zap.Any("offsets", staged),
				zap.Error(err),
			)
		}
		return
	}

	c.tracker.Apply(staged)
	c.commits++
	metrics.CommitTotal.WithLabelValues("success").Inc()
	for p, next := range staged {
		metrics.CommittedOffset.WithLabelValues(strconv.Itoa(int(p))).Set(float64(next))
	}
	metrics.PendingOffsets.Set(float64(c.tracker.Pending()))

	c.log.Info("offsets committed", zap.Any("offsets", staged))
}

func (c *Committer) dryRun() {
	c.log.Info("dry-run, would commit",
		zap.Any("offsets", c.tracker.Stage()),
		zap.Any("max_processed", c.tracker.MaxSeen()),
		zap.Int32s("partitions", c.tracker.Partitions()),
	)
	c.tracker.Reset()
}


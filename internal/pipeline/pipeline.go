package pipeline

import (
	"context"
	stderrors "errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer"
	"github.com/durable-consumer/durable-consumer/internal/offset"
	"github.com/durable-consumer/durable-consumer/internal/poller"
	"github.com/durable-consumer/durable-consumer/internal/processor"
	"github.com/durable-consumer/durable-consumer/internal/signal"
	"github.com/durable-consumer/durable-consumer/internal/state"
	"github.com/durable-consumer/durable-consumer/internal/worker"
	"github.com/durable-consumer/durable-consumer/internal/writer"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
	"github.com/durable-consumer/durable-consumer/pkg/utils"
)

const (
	defaultConnectBackoff = time.Second
	pingTimeout           = 10 * time.Second
)

// Option 流水线选项
type Option func(*Pipeline)

// WithSignals 替换拦截的信号，不传参数表示不拦截
func WithSignals(signals ...os.Signal) Option {
	return func(p *Pipeline) {
		p.signals = signals
		p.handleSignals = len(signals) > 0
	}
}

// WithClock 写入器使用的时钟
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithConnectBackoff 连接broker重试的初始退避
func WithConnectBackoff(d time.Duration) Option {
	return func(p *Pipeline) { p.connectBackoff = d }
}

// Pipeline 编排poller、worker、commit loop和写入器的一次运行，Run结束时关闭broker和处理器
type Pipeline struct {
	cfg    *config.Config
	broker consumer.Broker
	proc   processor.Processor
	log    *zap.Logger

	signals        []os.Signal
	handleSignals  bool
	now            func() time.Time
	connectBackoff time.Duration

	phase atomic.Int32
	runID string
}

// units 一次运行启动的单例执行单元，worker通过SharedState.Units查询
type units struct {
	poller     *state.Unit
	committer  *state.Unit
	deadLetter *state.Unit
	audit      *state.Unit
}

// components 用于汇总统计
type components struct {
	poller     *poller.Poller
	pool       *worker.Pool
	deadLetter *writer.Writer[state.DeadLetterEntry]
	audit      *writer.Writer[state.AuditRecord]
}

// New 创建流水线
func New(cfg *config.Config, broker consumer.Broker, proc processor.Processor, log *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:            cfg,
		broker:         broker,
		proc:           proc,
		log:            log,
		signals:        signal.DefaultSignals,
		handleSignals:  true,
		now:            time.Now,
		connectBackoff: defaultConnectBackoff,
		runID:          uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.setPhase(PhaseConfiguring)
	return p
}

// RunID 本次运行的标识
func (p *Pipeline) RunID() string {
	return p.runID
}

// Phase 当前阶段
func (p *Pipeline) Phase() Phase {
	return Phase(p.phase.Load())
}

// Ready 处于Running阶段时就绪
func (p *Pipeline) Ready() (bool, string) {
	phase := p.Phase()
	return phase == PhaseRunning, phase.String()
}

func (p *Pipeline) setPhase(phase Phase) {
	old := Phase(p.phase.Swap(int32(phase)))
	exportPhase(phase)
	if old != phase {
		p.log.Debug("pipeline phase changed",
			zap.String("from", old.String()),
			zap.String("to", phase.String()),
		)
	}
}

// Run 启动并运行到收到信号、内部停止或ctx结束，然后按顺序关闭
func (p *Pipeline) Run(ctx context.Context) Result {
	start := time.Now()
	res := Result{RunID: p.runID}

	// 1. 校验配置
	if err := config.Validate(p.cfg); err != nil {
		return p.fail(res, err)
	}

	// 2. 启动
	p.setPhase(PhaseStarting)
	p.banner()

	if err := p.connect(ctx); err != nil {
		return p.fail(res, err)
	}

	s := state.New(p.cfg, p.log.Named("state"))
	comps, err := p.openWriters(s)
	if err != nil {
		return p.fail(res, err)
	}
	if err := ctx.Err(); err != nil {
		comps.close()
		return p.fail(res, errors.Wrap(errors.ErrCodePipelineStart, "context done before units started", err))
	}

	u := p.start(ctx, s, comps)

	// 3. 等待停止
	var trigger *signal.Trigger
	if p.handleSignals {
		trigger = signal.NewTrigger(p.log.Named("signal"), func(os.Signal) { s.Stop(nil) }, p.signals...)
		trigger.Register()
	}

	p.setPhase(PhaseRunning)
	p.log.Info("pipeline running", zap.String("run_id", p.runID))

	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Stop(ctx.Err())
	}

	// 4. 关闭
	p.setPhase(PhaseShuttingDown)
	res = p.shutdown(s, u, comps, res)
	if trigger != nil {
		trigger.Restore()
	}

	res.Metrics.Duration = time.Since(start)
	res.Stats = collectStats(comps)
	res.Phase = p.Phase()

	p.log.Info("pipeline finished",
		zap.String("run_id", p.runID),
		zap.String("status", string(res.Status)),
		zap.String("stop_cause", res.StopCause),
		zap.Bool("clean_shutdown", res.Metrics.CleanShutdown),
		zap.Int("messages_in_queue", res.Metrics.MessagesInQueue),
		zap.Int("abandoned_workers", res.Metrics.AbandonedWorkers),
		zap.Duration("duration", res.Metrics.Duration),
	)
	return res
}

func (p *Pipeline) banner() {
	p.log.Info("starting durable consumer",
		zap.String("run_id", p.runID),
		zap.String("topic", p.cfg.Kafka.Topic),
		zap.String("group_id", p.cfg.Kafka.GroupID),
		zap.Strings("brokers", p.cfg.Kafka.Brokers),
		zap.Int("workers", p.cfg.Worker.Count),
		zap.Int("queue_size", p.cfg.Worker.QueueSize),
		zap.Bool("audit", p.cfg.Audit.Enabled),
	)
	if p.cfg.Commit.DryRun {
		p.log.Warn("dry-run mode: offsets will be tracked but never committed")
	}
	if len(p.cfg.StopAtOffset) > 0 {
		p.log.Info("stop offsets configured", zap.Any("stop_at_offset", p.cfg.StopAtOffset))
	}
}

// connect 带重试地确认broker可达
func (p *Pipeline) connect(ctx context.Context) error {
	attempt := 0
	err := utils.RetryIf(ctx, p.cfg.Kafka.ConnectRetries, p.connectBackoff, retryableConnect, func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := p.broker.Ping(pingCtx); err != nil {
			p.log.Warn("broker not reachable", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeKafkaConnect, "broker unreachable", err)
	}
	p.log.Info("broker reachable", zap.Int("attempts", attempt))
	return nil
}

// retryableConnect 未分类的错误重试，已分类的错误按错误码判断
func retryableConnect(err error) bool {
	if _, coded := errors.CodeOf(err); !coded {
		return true
	}
	return errors.IsRetryable(err)
}

// openWriters 打开死信文件（必需）和审计文件（可选），任一失败都不启动执行单元
func (p *Pipeline) openWriters(s *state.SharedState) (*components, error) {
	comps := &components{}

	dlOpts := writer.DeadLetterOptionsFromConfig(p.cfg)
	dlOpts.Now = p.now
	comps.deadLetter = writer.NewDeadLetter(s, dlOpts, p.log.Named("dead_letter"))
	if err := comps.deadLetter.Open(); err != nil {
		return nil, err
	}

	if p.cfg.Audit.Enabled {
		auditOpts := writer.AuditOptionsFromConfig(p.cfg)
		auditOpts.Now = p.now
		comps.audit = writer.NewAudit(s, auditOpts, p.log.Named("audit"))
		if err := comps.audit.Open(); err != nil {
			comps.deadLetter.Close()
			return nil, err
		}
	} else {
		p.log.Info("audit file disabled")
	}

	return comps, nil
}

// close 启动失败时关闭已打开的写入器
func (c *components) close() {
	if c.audit != nil {
		c.audit.Close()
	}
	c.deadLetter.Close()
}

// start 按 poller -> workers -> commit loop -> 写入器 的顺序启动
func (p *Pipeline) start(ctx context.Context, s *state.SharedState, comps *components) *units {
	u := &units{}

	comps.poller = poller.New(s, p.broker, poller.OptionsFromConfig(p.cfg), p.log.Named("poller"))
	u.poller = s.Spawn(state.RolePoller, "poller", func() { comps.poller.Run(ctx) })

	comps.pool = worker.NewPool(s, p.proc, worker.OptionsFromConfig(p.cfg), p.log.Named("worker"))
	comps.pool.Start()

	committer := offset.NewCommitter(s, p.broker, offset.OptionsFromConfig(p.cfg), p.log.Named("committer"))
	u.committer = s.Spawn(state.RoleCommitter, "committer", committer.Run)

	u.deadLetter = s.Spawn(state.RoleDeadLetter, "dead_letter_writer", comps.deadLetter.Run)
	if comps.audit != nil {
		u.audit = s.Spawn(state.RoleAudit, "audit_writer", comps.audit.Run)
	}

	return u
}

// fail 启动前失败，不启动任何执行单元
func (p *Pipeline) fail(res Result, err error) Result {
	p.setPhase(PhaseFailed)
	p.log.Error("pipeline failed to start", zap.Error(err))

	if cerr := p.broker.Close(); cerr != nil {
		p.log.Warn("failed to close broker", zap.Error(cerr))
	}
	if cerr := processor.Close(p.proc); cerr != nil {
		p.log.Warn("failed to close processor", zap.Error(cerr))
	}

	res.Status = StatusError
	res.Error = err
	res.StopCause = StopStartupFailure
	res.Phase = PhaseFailed
	return res
}

// stopCause 把停止原因转换为结果
func stopCause(cause error) (string, error) {
	switch {
	case cause == nil:
		return StopRequested, nil
	case stderrors.Is(cause, poller.ErrStopOffset):
		return StopOffsetReached, nil
	case stderrors.Is(cause, context.Canceled), stderrors.Is(cause, context.DeadlineExceeded):
		return StopContextDone, nil
	default:
		return cause.Error(), cause
	}
}

func collectStats(c *components) Stats {
	var st Stats
	if c == nil {
		return st
	}
	if c.poller != nil {
		st.Poller = c.poller.Stats()
	}
	if c.pool != nil {
		st.Workers = c.pool.Stats()
	}
	if c.deadLetter != nil {
		st.DeadLetterRows = c.deadLetter.Written()
	}
	if c.audit != nil {
		st.AuditRows = c.audit.Written()
	}
	return st
}

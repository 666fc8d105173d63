package pipeline

import (
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/processor"
	"github.com/durable-consumer/durable-consumer/internal/state"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

// shutdown 按顺序等待各执行单元，任何一步超时都继续下一步；panic时转入紧急关闭
func (p *Pipeline) shutdown(s *state.SharedState, u *units, comps *components, res Result) (out Result) {
	defer func() {
		if r := recover(); r != nil {
			out = p.emergency(s, res, r)
		}
	}()

	start := time.Now()
	s.Stop(nil)
	unitJoin := p.cfg.Shutdown.UnitJoinTimeout()
	var abandoned []string

	join := func(unit *state.Unit) {
		if unit == nil {
			return
		}
		if !unit.Join(unitJoin) {
			p.log.Warn("unit did not stop in time, abandoning",
				zap.String("unit", unit.Name()),
				zap.String("role", string(unit.Role())),
				zap.Duration("timeout", unitJoin),
			)
			abandoned = append(abandoned, unit.Name())
		}
	}

	// 1. poller
	p.log.Info("waiting for polling loop")
	join(u.poller)
	s.SettlePoller()

	// 2. workers共享一个等待预算
	budget := p.cfg.Shutdown.Timeout()
	workers := s.Units(state.RoleWorker)
	p.log.Info("waiting for workers",
		zap.Int("workers", len(workers)),
		zap.Duration("budget", budget),
		zap.Int("queued", len(s.Processing)),
	)
	aliveWorkers := state.JoinShared(workers, budget)
	if aliveWorkers > 0 {
		p.log.Warn("worker shutdown budget exhausted, abandoning workers",
			zap.Int("alive", aliveWorkers),
			zap.Duration("budget", budget),
		)
		for _, w := range workers {
			if w.Alive() {
				abandoned = append(abandoned, w.Name())
			}
		}
	}
	s.SettleWorkers()

	// 3. commit loop最后一次提交
	p.log.Info("waiting for commit loop")
	join(u.committer)

	// 4. 写入器最后一次flush
	p.log.Info("waiting for writers")
	join(u.deadLetter)
	join(u.audit)

	// 5. broker
	if err := p.broker.Close(); err != nil {
		p.log.Error("failed to close broker", zap.Error(err))
	}
	if err := processor.Close(p.proc); err != nil {
		p.log.Warn("failed to close processor", zap.Error(err))
	}

	cause, fatal := stopCause(s.Cause())
	out = res
	out.StopCause = cause
	out.Metrics = ShutdownMetrics{
		MessagesInQueue:  len(s.Processing),
		CleanShutdown:    len(abandoned) == 0 && fatal == nil,
		AbandonedWorkers: aliveWorkers,
		AbandonedUnits:   abandoned,
	}
	if fatal != nil {
		out.Status = StatusError
		out.Error = fatal
	} else {
		out.Status = StatusSuccess
	}

	p.setPhase(PhaseStopped)
	p.log.Info("graceful shutdown complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Strings("abandoned", abandoned),
	)
	return out
}

// emergency 强制关闭broker并返回错误结果
func (p *Pipeline) emergency(s *state.SharedState, res Result, r interface{}) Result {
	p.log.Error("panic during shutdown, forcing emergency shutdown",
		zap.Any("panic", r),
		zap.ByteString("stack", debug.Stack()),
	)
	s.Stop(nil)
	s.SettlePoller()
	s.SettleWorkers()

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				p.log.Error("broker close panicked during emergency shutdown", zap.Any("panic", rec))
			}
		}()
		if err := p.broker.Close(); err != nil {
			p.log.Error("failed to close broker", zap.Error(err))
		}
	}()

	cause, _ := stopCause(s.Cause())
	res.Status = StatusError
	res.Error = errors.Newf(errors.ErrCodePipelineShutdown, "panic during shutdown: %v", r)
	res.StopCause = cause
	res.Metrics.MessagesInQueue = len(s.Processing)
	res.Metrics.CleanShutdown = false

	p.setPhase(PhaseStopped)
	return res
}

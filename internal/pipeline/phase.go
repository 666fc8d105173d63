package pipeline

import (
	"time"

	"github.com/durable-consumer/durable-consumer/internal/metrics"
	"github.com/durable-consumer/durable-consumer/internal/poller"
	"github.com/durable-consumer/durable-consumer/internal/worker"
)

// Phase 流水线生命周期阶段
type Phase int32

const (
	PhaseConfiguring Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseShuttingDown
	PhaseStopped
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseConfiguring:  "configuring",
	PhaseStarting:     "starting",
	PhaseRunning:      "running",
	PhaseShuttingDown: "shutting_down",
	PhaseStopped:      "stopped",
	PhaseFailed:       "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

func exportPhase(current Phase) {
	for p := PhaseConfiguring; p <= PhaseFailed; p++ {
		v := 0.0
		if p == current {
			v = 1
		}
		metrics.PipelinePhase.WithLabelValues(p.String()).Set(v)
	}
}

// Status 运行结果
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// 停止原因
const (
	StopRequested      = "requested"
	StopOffsetReached  = "stop_offset"
	StopContextDone    = "context_done"
	StopStartupFailure = "startup_failure"
)

// ShutdownMetrics 关闭过程的统计
type ShutdownMetrics struct {
	// MessagesInQueue 关闭结束时仍留在处理队列中的消息数
	MessagesInQueue  int
	CleanShutdown    bool
	Duration         time.Duration
	AbandonedWorkers int
	// AbandonedUnits 等待超时后放弃的执行单元
	AbandonedUnits []string
}

// Stats 各执行单元的累计计数
type Stats struct {
	Poller         poller.Stats
	Workers        worker.Stats
	AuditRows      int64
	DeadLetterRows int64
}

// Result Run的结构化结果
type Result struct {
	RunID     string
	Status    Status
	Phase     Phase
	Error     error
	StopCause string
	Metrics   ShutdownMetrics
	Stats     Stats
}

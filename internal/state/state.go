package state

import (
	"sync"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer"
	"github.com/durable-consumer/durable-consumer/internal/queue"
)

// SharedState 一次运行内所有执行单元共享的协调状态
type SharedState struct {
	cfg *config.Config
	log *zap.Logger

	// Processing 有界处理队列，满时poller阻塞（背压点）
	Processing chan *consumer.Message
	// Processed worker产生的处理标记，不限长度
	Processed *queue.Queue[ProcessedMark]
	// DeadLetters 死信队列，不限长度
	DeadLetters *queue.Queue[DeadLetterEntry]
	// Audit 审计队列，未启用审计时为nil
	Audit *queue.Queue[AuditRecord]

	done     chan struct{}
	stopOnce sync.Once
	cause    error

	pollerSettled  *signalOnce
	workersSettled *signalOnce

	mu    sync.Mutex
	units map[Role][]*Unit
}

// New 创建共享状态，运行标记初始为true
func New(cfg *config.Config, log *zap.Logger) *SharedState {
	s := &SharedState{
		cfg:            cfg,
		log:            log,
		Processing:     make(chan *consumer.Message, cfg.Worker.QueueSize),
		Processed:      queue.New[ProcessedMark](0),
		DeadLetters:    queue.New[DeadLetterEntry](0),
		done:           make(chan struct{}),
		pollerSettled:  newSignalOnce(),
		workersSettled: newSignalOnce(),
		units:          make(map[Role][]*Unit),
	}
	if cfg.Audit.Enabled {
		s.Audit = queue.New[AuditRecord](cfg.Audit.QueueSize)
	}
	return s
}

// Config 返回已校验的配置
func (s *SharedState) Config() *config.Config {
	return s.cfg
}

// Running 运行标记是否仍然有效
func (s *SharedState) Running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done 运行标记清除后关闭
func (s *SharedState) Done() <-chan struct{} {
	return s.done
}

// Stop 清除运行标记，幂等且并发安全；只记录第一次的原因，nil表示外部请求
func (s *SharedState) Stop(cause error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()
		close(s.done)

		if cause != nil {
			s.log.Warn("stop requested", zap.Error(cause))
		} else {
			s.log.Info("stop requested")
		}
	})
}

// Cause 返回触发停止的原因
func (s *SharedState) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// SettlePoller poller已退出或已放弃等待，审计队列不会再增长
func (s *SharedState) SettlePoller() { s.pollerSettled.fire() }

// SettleWorkers 所有worker已退出或已放弃等待，处理标记和死信不会再增长
func (s *SharedState) SettleWorkers() { s.workersSettled.fire() }

// PollerSettled 见SettlePoller
func (s *SharedState) PollerSettled() <-chan struct{} { return s.pollerSettled.ch }

// WorkersSettled 见SettleWorkers
func (s *SharedState) WorkersSettled() <-chan struct{} { return s.workersSettled.ch }

type signalOnce struct {
	once sync.Once
	ch   chan struct{}
}

func newSignalOnce() *signalOnce {
	return &signalOnce{ch: make(chan struct{})}
}

func (o *signalOnce) fire() {
	o.once.Do(func() { close(o.ch) })
}

// Fired 非阻塞检查通道是否已关闭
func Fired(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

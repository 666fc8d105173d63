package writer

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/batcher"
	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/metrics"
	"github.com/durable-consumer/durable-consumer/internal/queue"
	"github.com/durable-consumer/durable-consumer/internal/state"
)

// maxBatchBytes 单个批次的估算字节数上限，超过后立即写出
const maxBatchBytes = 4 << 20

// Options 写入器参数
type Options struct {
	BasePath              string
	BatchSize             int
	FlushInterval         time.Duration
	RotationCheckInterval time.Duration
	QueueGetTimeout       time.Duration
	// Now 时钟，nil时使用time.Now
	Now func() time.Time
}

// AuditOptionsFromConfig 审计写入器参数
func AuditOptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BasePath:              cfg.Audit.Path,
		BatchSize:             cfg.Audit.BatchSize,
		FlushInterval:         cfg.Writer.FlushInterval(),
		RotationCheckInterval: cfg.Writer.RotationCheckInterval(),
		QueueGetTimeout:       cfg.Writer.QueueGetTimeout(),
	}
}

// DeadLetterOptionsFromConfig 死信写入器参数
func DeadLetterOptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BasePath:              cfg.DeadLetter.Path,
		BatchSize:             cfg.DeadLetter.BatchSize,
		FlushInterval:         cfg.Writer.FlushInterval(),
		RotationCheckInterval: cfg.Writer.RotationCheckInterval(),
		QueueGetTimeout:       cfg.Writer.QueueGetTimeout(),
	}
}

// Writer 从队列批量读取条目写入按小时轮转的CSV文件
type Writer[T any] struct {
	name     string
	state    *state.SharedState
	queue    *queue.Queue[T]
	upstream <-chan struct{}
	format   func(T) []string
	opts     Options
	log      *zap.Logger

	file    *RotatingFile
	batch   *batcher.Batcher
	written atomic.Int64
}

func newWriter[T any](
	name string,
	s *state.SharedState,
	q *queue.Queue[T],
	upstream <-chan struct{},
	header []string,
	format func(T) []string,
	opts Options,
	log *zap.Logger,
) *Writer[T] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	opts.Now = now

	return &Writer[T]{
		name:     name,
		state:    s,
		queue:    q,
		upstream: upstream,
		format:   format,
		opts:     opts,
		log:      log,
		file:     NewRotatingFile(name, opts.BasePath, header, now, log),
		batch:    batcher.New(batcher.Config{MaxRows: opts.BatchSize, MaxBytes: maxBatchBytes, FlushInterval: opts.FlushInterval}, now),
	}
}

// Open 打开当前小时的文件，失败时不应启动任何执行单元
func (w *Writer[T]) Open() error {
	return w.file.Open()
}

// Path 当前文件路径
func (w *Writer[T]) Path() string {
	return w.file.Path()
}

// Written 已写入的行数
func (w *Writer[T]) Written() int64 {
	return w.written.Load()
}

// Close 关闭文件，用于启动失败时释放已打开的文件
func (w *Writer[T]) Close() error {
	return w.file.Close()
}

// Run 在运行期间以及上游仍可能产生数据时持续写入，退出前尽力写出剩余批次
func (w *Writer[T]) Run() {
	w.log.Info("csv writer started",
		zap.String("path", w.file.Path()),
		zap.Int("batch_size", w.opts.BatchSize),
	)

	lastRotationCheck := w.opts.Now()
	for w.active() {
		if w.opts.Now().Sub(lastRotationCheck) >= w.opts.RotationCheckInterval {
			lastRotationCheck = w.opts.Now()
			if err := w.rotate(); err != nil {
				w.log.Error("csv rotation failed, stopping", zap.Error(err))
				w.state.Stop(err)
				break
			}
		}

		if item, ok := w.queue.Pop(w.opts.QueueGetTimeout); ok {
			w.batch.Add(w.format(item))
		}

		if w.batch.ShouldFlush() {
			if err := w.flush(); err != nil {
				w.log.Error("csv write failed, stopping", zap.Error(err))
				w.state.Stop(err)
				break
			}
		}
	}

	w.finish()
}

// active 运行中、队列非空或上游尚未结束
func (w *Writer[T]) active() bool {
	return w.state.Running() || !w.queue.Empty() || !state.Fired(w.upstream)
}

func (w *Writer[T]) rotate() error {
	if !w.file.Due() {
		return nil
	}
	// 轮转前先写出到旧文件
	if err := w.flush(); err != nil {
		return err
	}
	return w.file.Rotate()
}

func (w *Writer[T]) flush() error {
	if w.batch.Size() == 0 {
		return nil
	}

	start := time.Now()
	size := w.batch.Bytes()
	rows := w.batch.Flush()
	if err := w.file.Write(rows); err != nil {
		// 保留给退出前的最后一次尝试
		for _, row := range rows {
			w.batch.Add(row)
		}
		return err
	}

	total := w.written.Add(int64(len(rows)))
	metrics.WriterRowsWritten.WithLabelValues(w.name).Add(float64(len(rows)))
	metrics.WriterFlushDuration.WithLabelValues(w.name).Observe(time.Since(start).Seconds())
	w.log.Debug("csv batch flushed",
		zap.Int("rows", len(rows)),
		zap.Int("bytes", size),
		zap.Int64("total", total),
	)
	return nil
}

func (w *Writer[T]) finish() {
	if n := w.batch.Size(); n > 0 {
		if err := w.flush(); err != nil {
			w.log.Error("final csv flush failed", zap.Int("rows", n), zap.Error(err))
		} else {
			w.log.Info("final csv flush", zap.Int("rows", n))
		}
	}

	if err := w.file.Close(); err != nil {
		w.log.Error("failed to close csv file", zap.Error(err))
	}
	w.log.Info("csv writer stopped",
		zap.String("path", w.file.Path()),
		zap.Int64("rows_written", w.written.Load()),
		zap.Int("unwritten", w.queue.Len()),
	)
}

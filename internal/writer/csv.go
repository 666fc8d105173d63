package writer

import (
	"encoding/csv"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/metrics"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
	"github.com/durable-consumer/durable-consumer/pkg/pool"
)

// HourlyPath 返回当前小时的文件路径，如 kafka_backup.csv -> kafka_backup.20250102_14.csv
func HourlyPath(base string, t time.Time) string {
	return strings.TrimSuffix(base, ".csv") + "." + t.UTC().Format("20060102_15") + ".csv"
}

// RotatingFile 按小时轮转的CSV文件，新文件或空文件写入表头
type RotatingFile struct {
	name   string
	base   string
	header []string
	now    func() time.Time
	log    *zap.Logger

	file *os.File
	// path 由Run所在goroutine写入，Path可并发读取
	path atomic.Value
}

// NewRotatingFile 创建轮转文件，需调用Open打开
func NewRotatingFile(name, base string, header []string, now func() time.Time, log *zap.Logger) *RotatingFile {
	if now == nil {
		now = time.Now
	}
	return &RotatingFile{
		name:   name,
		base:   base,
		header: header,
		now:    now,
		log:    log,
	}
}

// Path 当前打开的文件路径
func (f *RotatingFile) Path() string {
	path, _ := f.path.Load().(string)
	return path
}

// Open 以追加方式打开当前小时的文件
func (f *RotatingFile) Open() error {
	path := HourlyPath(f.base, f.now())

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		metrics.WriterErrors.WithLabelValues(f.name, "open").Inc()
		return errors.Wrap(errors.ErrCodeWriterOpen, "failed to open "+path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		metrics.WriterErrors.WithLabelValues(f.name, "open").Inc()
		return errors.Wrap(errors.ErrCodeWriterOpen, "failed to stat "+path, err)
	}

	f.file = file
	f.path.Store(path)

	if info.Size() == 0 {
		if err := f.Write([][]string{f.header}); err != nil {
			file.Close()
			f.file = nil
			return err
		}
		f.log.Debug("wrote csv header", zap.String("path", path))
	}

	f.log.Info("csv file opened", zap.String("path", path))
	return nil
}

// Due 当前小时对应的路径是否已变化
func (f *RotatingFile) Due() bool {
	return HourlyPath(f.base, f.now()) != f.Path()
}

// Rotate 关闭当前文件并打开新小时的文件；调用方需先写出待写批次
func (f *RotatingFile) Rotate() error {
	old := f.Path()
	if err := f.Close(); err != nil {
		f.log.Warn("failed to close csv file before rotation", zap.String("path", old), zap.Error(err))
	}

	if err := f.Open(); err != nil {
		metrics.WriterErrors.WithLabelValues(f.name, "rotate").Inc()
		return errors.Wrap(errors.ErrCodeWriterRotate, "failed to rotate from "+old, err)
	}

	metrics.WriterRotations.WithLabelValues(f.name).Inc()
	f.log.Info("rotated csv file", zap.String("old", old), zap.String("new", f.Path()))
	return nil
}

// Write 将多行编码后一次写入文件
func (f *RotatingFile) Write(rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if f.file == nil {
		return errors.New(errors.ErrCodeWriterWrite, "csv file is not open")
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	w := csv.NewWriter(buf)
	if err := w.WriteAll(rows); err != nil {
		metrics.WriterErrors.WithLabelValues(f.name, "write").Inc()
		return errors.Wrap(errors.ErrCodeWriterWrite, "failed to encode rows", err)
	}

	if _, err := f.file.Write(buf.Bytes()); err != nil {
		metrics.WriterErrors.WithLabelValues(f.name, "write").Inc()
		return errors.Wrap(errors.ErrCodeWriterWrite, "failed to write "+f.Path(), err)
	}
	return nil
}

// Close 关闭文件，可重复调用
func (f *RotatingFile) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		metrics.WriterErrors.WithLabelValues(f.name, "close").Inc()
	}
	return err
}

package batcher

import (
	"sync"
	"time"
)

// Config 批次参数
type Config struct {
	MaxRows       int
	MaxBytes      int // 0表示不按字节数刷新
	FlushInterval time.Duration
}

// Batcher 内存中的CSV行批次，按行数、字节数或时间间隔触发刷新
type Batcher struct {
	cfg           Config
	rows          [][]string
	currentSize   int
	mu            sync.Mutex
	lastFlushTime time.Time
	now           func() time.Time
}

// New 创建批次管理器，now为nil时使用time.Now
func New(cfg Config, now func() time.Time) *Batcher {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1
	}
	return &Batcher{
		cfg:           cfg,
		rows:          make([][]string, 0, cfg.MaxRows),
		lastFlushTime: now(),
		now:           now,
	}
}

// Add 添加一行，返回是否达到刷新条件
func (b *Batcher) Add(row []string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rows = append(b.rows, row)
	b.currentSize += estimateRowSize(row)

	return b.shouldFlushLocked()
}

// Flush 取出当前批次并重置计时
func (b *Batcher) Flush() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFlushTime = b.now()
	if len(b.rows) == 0 {
		return nil
	}

	batch := b.rows
	b.rows = make([][]string, 0, b.cfg.MaxRows)
	b.currentSize = 0
	return batch
}

// ShouldFlush 检查是否应该flush
func (b *Batcher) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shouldFlushLocked()
}

// shouldFlushLocked 检查是否应该flush（需要持有锁）
func (b *Batcher) shouldFlushLocked() bool {
	// 检查行数
	if len(b.rows) >= b.cfg.MaxRows {
		return true
	}

	// 检查大小
	if b.cfg.MaxBytes > 0 && b.currentSize >= b.cfg.MaxBytes {
		return true
	}

	// 检查时间间隔
	if b.cfg.FlushInterval > 0 && b.now().Sub(b.lastFlushTime) >= b.cfg.FlushInterval {
		return len(b.rows) > 0
	}

	return false
}

// Size 返回当前批次行数
func (b *Batcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// Bytes 返回当前批次的估算字节数
func (b *Batcher) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentSize
}

// estimateRowSize 估算行大小
func estimateRowSize(row []string) int {
	size := 0
	for _, v := range row {
		size += len(v) + 1
	}
	return size
}

package state

import (
	"time"

	"github.com/durable-consumer/durable-consumer/internal/consumer"
)

// Outcome 消息处理结果
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ProcessedMark worker处理完一条消息后产生，由commit loop消费
type ProcessedMark struct {
	Partition int32
	Offset    int64
	Outcome   Outcome
}

// DeadLetterEntry 处理失败的消息及错误信息
type DeadLetterEntry struct {
	Message        *consumer.Message
	ErrorType      string
	ErrorMessage   string
	StackTrace     string
	ProcessingTime time.Duration
	RetryCount     int
}

// AuditRecord 审计文件中的一行
type AuditRecord struct {
	Timestamp   time.Time
	Topic       string
	Partition   int32
	Offset      int64
	Key         []byte
	Value       []byte
	MessageSize int
}

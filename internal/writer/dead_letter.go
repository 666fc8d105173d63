package writer

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/state"
	"github.com/durable-consumer/durable-consumer/pkg/utils"
)

// DeadLetterColumns 死信文件列
var DeadLetterColumns = []string{
	"timestamp",
	"topic",
	"partition",
	"offset",
	"key",
	"value",
	"error_type",
	"error_message",
	"stack_trace",
	"processing_time_ms",
	"retry_count",
}

// NewDeadLetter 创建死信写入器，所有worker结束后才会退出
func NewDeadLetter(s *state.SharedState, opts Options, log *zap.Logger) *Writer[state.DeadLetterEntry] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	format := func(e state.DeadLetterEntry) []string {
		return formatDeadLetter(e, now())
	}
	return newWriter("dead_letter", s, s.DeadLetters, s.WorkersSettled(), DeadLetterColumns, format, opts, log)
}

func formatDeadLetter(e state.DeadLetterEntry, at time.Time) []string {
	msg := e.Message
	return []string{
		utils.UTCTimestamp(at),
		msg.Topic,
		strconv.Itoa(int(msg.Partition)),
		strconv.FormatInt(msg.Offset, 10),
		utils.DecodeText(msg.Key),
		utils.DecodeText(msg.Value),
		e.ErrorType,
		e.ErrorMessage,
		e.StackTrace,
		utils.FormatMillis(e.ProcessingTime),
		strconv.Itoa(e.RetryCount),
	}
}

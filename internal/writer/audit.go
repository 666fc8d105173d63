package writer

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/state"
	"github.com/durable-consumer/durable-consumer/pkg/utils"
)

// AuditColumns 审计文件列
var AuditColumns = []string{
	"timestamp",
	"topic",
	"partition",
	"offset",
	"key",
	"value",
	"message_size",
}

// NewAudit 创建审计写入器，poller结束后才会退出
func NewAudit(s *state.SharedState, opts Options, log *zap.Logger) *Writer[state.AuditRecord] {
	return newWriter("audit", s, s.Audit, s.PollerSettled(), AuditColumns, formatAudit, opts, log)
}

func formatAudit(rec state.AuditRecord) []string {
	return []string{
		utils.UTCTimestamp(rec.Timestamp),
		rec.Topic,
		strconv.Itoa(int(rec.Partition)),
		strconv.FormatInt(rec.Offset, 10),
		utils.DecodeText(rec.Key),
		utils.DecodeText(rec.Value),
		strconv.Itoa(rec.MessageSize),
	}
}

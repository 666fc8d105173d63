package consumer

import (
	"context"
	"time"
)

// Message Kafka消息，创建后不可修改
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp int64
}

// Size 消息体大小
func (m *Message) Size() int {
	return len(m.Value)
}

// Broker 分区日志客户端接口
type Broker interface {
	// Ping 检查broker是否可达
	Ping(ctx context.Context) error
	// Poll 拉取一批消息，按分区分组；超时无消息时返回空结果
	Poll(ctx context.Context, timeout time.Duration, maxRecords int) (map[int32][]*Message, error)
	// Commit 提交 partition -> 下一个待读取offset
	Commit(ctx context.Context, offsets map[int32]int64) error
	Close() error
}

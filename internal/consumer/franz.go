package consumer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kzap"
	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

// FranzConsumer franz-go消费者实现
type FranzConsumer struct {
	cfg    config.KafkaConfig
	client *kgo.Client
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewFranzConsumer 创建franz-go消费者
func NewFranzConsumer(cfg config.KafkaConfig, log *zap.Logger) (*FranzConsumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.FetchMaxBytes(int32(cfg.MaxFetchBytes)),
		kgo.FetchMinBytes(1),
		kgo.SessionTimeout(time.Duration(cfg.SessionTimeout) * time.Second),
		kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatInterval) * time.Second),
		kgo.DisableAutoCommit(), // 只由commit loop提交
		kgo.WithLogger(kzap.New(log.Named("kgo"), kzap.Level(kgo.LogLevelWarn))),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	// 设置消费起始位置
	if cfg.AutoOffsetReset == "earliest" {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeKafkaConnect, "failed to create kafka client", err)
	}

	log.Info("kafka consumer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
	)

	return &FranzConsumer{
		cfg:    cfg,
		client: client,
		log:    log,
	}, nil
}

// Ping 测试连接
func (c *FranzConsumer) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		if stderrors.Is(err, kgo.ErrClientClosed) {
			return errors.Wrap(errors.ErrCodeKafkaClosed, "kafka client closed", err)
		}
		return errors.Wrap(errors.ErrCodeKafkaConnect, "failed to ping kafka", err)
	}
	return nil
}

// Poll 拉取消息，超时没有数据返回空map
func (c *FranzConsumer) Poll(ctx context.Context, timeout time.Duration, maxRecords int) (map[int32][]*Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	fetches := c.client.PollRecords(pollCtx, maxRecords)
	cancel()

	if fetches.IsClientClosed() {
		return nil, errors.New(errors.ErrCodeKafkaClosed, "kafka client closed")
	}

	var fetchErrs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		// poll超时不算错误
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
			return
		}
		fetchErrs = append(fetchErrs, fmt.Errorf("%s[%d]: %w", topic, partition, err))
	})

	batch := make(map[int32][]*Message)
	fetches.EachRecord(func(record *kgo.Record) {
		batch[record.Partition] = append(batch[record.Partition], &Message{
			Topic:     record.Topic,
			Partition: record.Partition,
			Offset:    record.Offset,
			Key:       record.Key,
			Value:     record.Value,
			Timestamp: record.Timestamp.UnixMilli(),
		})
	})

	// 有错误时仍然返回已拉取的消息，kgo内部位置已前移
	if len(fetchErrs) > 0 {
		return batch, errors.Wrap(errors.ErrCodeKafkaPoll, "fetch returned errors", stderrors.Join(fetchErrs...))
	}
	return batch, nil
}

// Commit 同步提交offset
func (c *FranzConsumer) Commit(ctx context.Context, offsets map[int32]int64) error {
	if len(offsets) == 0 {
		return nil
	}

	uncommitted := map[string]map[int32]kgo.EpochOffset{
		c.cfg.Topic: make(map[int32]kgo.EpochOffset, len(offsets)),
	}
	for partition, offset := range offsets {
		uncommitted[c.cfg.Topic][partition] = kgo.EpochOffset{Epoch: -1, Offset: offset}
	}

	var commitErr error
	c.client.CommitOffsetsSync(ctx, uncommitted, func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		if err != nil {
			commitErr = err
			return
		}
		var partErrs []error
		for _, topic := range resp.Topics {
			for _, p := range topic.Partitions {
				if perr := kerr.ErrorForCode(p.ErrorCode); perr != nil {
					partErrs = append(partErrs, fmt.Errorf("%s[%d]: %w", topic.Topic, p.Partition, perr))
				}
			}
		}
		commitErr = stderrors.Join(partErrs...)
	})

	if commitErr != nil {
		return errors.Wrap(errors.ErrCodeKafkaCommit, "failed to commit offsets", commitErr)
	}
	return nil
}

// Close 关闭消费者，可重复调用
func (c *FranzConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.client.Close()
	c.log.Info("kafka consumer closed")

	return nil
}

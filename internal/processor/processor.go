package processor

import (
	"context"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

// Processor 用户提供的消息处理逻辑，返回error表示处理失败
type Processor interface {
	Process(ctx context.Context, value []byte) error
}

// Func 函数适配器
type Func func(ctx context.Context, value []byte) error

// Process 调用f
func (f Func) Process(ctx context.Context, value []byte) error {
	return f(ctx, value)
}

// Builder 根据配置创建处理器
type Builder func(cfg config.ProcessorConfig, log *zap.Logger) (Processor, error)

var builders = map[string]Builder{
	"noop":  newNoop,
	"json":  newJSON,
	"mysql": newMySQL,
}

// Register 注册处理器，同名覆盖
func Register(name string, b Builder) {
	builders[name] = b
}

// Names 已注册的处理器名称
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build 按processor.name创建处理器
func Build(cfg config.ProcessorConfig, log *zap.Logger) (Processor, error) {
	b, ok := builders[cfg.Name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeProcessorBuild,
			"unknown processor %q, available: %v", cfg.Name, Names())
	}

	p, err := b(cfg, log)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProcessorBuild, "failed to build processor "+cfg.Name, err)
	}

	log.Info("processor ready", zap.String("name", cfg.Name))
	return p, nil
}

// Close 处理器实现io.Closer时关闭它
func Close(p Processor) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func newNoop(_ config.ProcessorConfig, _ *zap.Logger) (Processor, error) {
	return Func(func(context.Context, []byte) error { return nil }), nil
}

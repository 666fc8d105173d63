package processor

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

// jsonProcessor 校验消息是合法JSON并包含必需字段
type jsonProcessor struct {
	required [][]interface{}
	log      *zap.Logger
}

func newJSON(cfg config.ProcessorConfig, log *zap.Logger) (Processor, error) {
	p := &jsonProcessor{log: log}
	for _, field := range cfg.JSON.RequiredFields {
		if field == "" {
			return nil, errors.New(errors.ErrCodeProcessorBuild, "empty required field")
		}
		// a.b.c 表示嵌套字段
		parts := strings.Split(field, ".")
		path := make([]interface{}, len(parts))
		for i, part := range parts {
			path[i] = part
		}
		p.required = append(p.required, path)
	}
	return p, nil
}

func (p *jsonProcessor) Process(_ context.Context, value []byte) error {
	if !sonic.Valid(value) {
		return errors.New(errors.ErrCodeInvalidPayload, "value is not valid json")
	}

	for _, path := range p.required {
		// 使用sonic.Get()直接提取字段，无需完整解析
		node, err := sonic.Get(value, path...)
		if err != nil || !node.Exists() {
			return errors.Newf(errors.ErrCodeInvalidPayload, "missing required field %s", joinPath(path))
		}
	}
	return nil
}

func joinPath(path []interface{}) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = p.(string)
	}
	return strings.Join(parts, ".")
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode int

const (
	// Kafka相关错误 1xxx
	ErrCodeKafkaConnect ErrorCode = 1001
	ErrCodeKafkaPoll    ErrorCode = 1002
	ErrCodeKafkaCommit  ErrorCode = 1003
	ErrCodeKafkaClosed  ErrorCode = 1004

	// 消息处理相关错误 2xxx
	ErrCodeMessageTooLarge ErrorCode = 2001
	ErrCodeProcessTimeout  ErrorCode = 2002
	ErrCodeProcessPanic    ErrorCode = 2003
	ErrCodeProcessFailed   ErrorCode = 2004
	ErrCodeInvalidPayload  ErrorCode = 2005

	// 文件写入相关错误 3xxx
	ErrCodeWriterOpen   ErrorCode = 3001
	ErrCodeWriterWrite  ErrorCode = 3002
	ErrCodeWriterRotate ErrorCode = 3003

	// 流水线相关错误 4xxx
	ErrCodePipelineStart    ErrorCode = 4001
	ErrCodePipelineShutdown ErrorCode = 4002

	// 配置相关错误 5xxx
	ErrCodeConfigLoad     ErrorCode = 5001
	ErrCodeConfigValidate ErrorCode = 5002
	ErrCodeProcessorBuild ErrorCode = 5003
)

var codeNames = map[ErrorCode]string{
	ErrCodeKafkaConnect:     "KafkaConnectError",
	ErrCodeKafkaPoll:        "KafkaPollError",
	ErrCodeKafkaCommit:      "KafkaCommitError",
	ErrCodeKafkaClosed:      "KafkaClientClosed",
	ErrCodeMessageTooLarge:  "MessageTooLarge",
	ErrCodeProcessTimeout:   "ProcessingTimeout",
	ErrCodeProcessPanic:     "ProcessorPanic",
	ErrCodeProcessFailed:    "ProcessorError",
	ErrCodeInvalidPayload:   "InvalidPayload",
	ErrCodeWriterOpen:       "WriterOpenError",
	ErrCodeWriterWrite:      "WriterWriteError",
	ErrCodeWriterRotate:     "WriterRotateError",
	ErrCodePipelineStart:    "PipelineStartError",
	ErrCodePipelineShutdown: "PipelineShutdownError",
	ErrCodeConfigLoad:       "ConfigLoadError",
	ErrCodeConfigValidate:   "ConfigValidateError",
	ErrCodeProcessorBuild:   "ProcessorBuildError",
}

// String 返回错误码名称
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// ConsumerError 自定义错误类型
type ConsumerError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ConsumerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// New 创建新错误
func New(code ErrorCode, message string) *ConsumerError {
	return &ConsumerError{
		Code:    code,
		Message: message,
	}
}

// Newf 创建带格式化信息的错误
func Newf(code ErrorCode, format string, args ...interface{}) *ConsumerError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
func Wrap(code ErrorCode, message string, err error) *ConsumerError {
	return &ConsumerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf 返回错误链中第一个ConsumerError的错误码
func CodeOf(err error) (ErrorCode, bool) {
	var ce *ConsumerError
	if stderrors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}

	switch code {
	case ErrCodeKafkaConnect, ErrCodeKafkaPoll, ErrCodeKafkaCommit:
		return true
	default:
		return false
	}
}

// categorizer 处理器可以实现该接口来自定义死信分类
type categorizer interface {
	Category() string
}

// Category 返回写入死信文件的错误分类
func Category(err error) string {
	if err == nil {
		return ""
	}

	var c categorizer
	if stderrors.As(err, &c) {
		if cat := c.Category(); cat != "" {
			return cat
		}
	}

	if code, ok := CodeOf(err); ok {
		return code.String()
	}

	return ErrCodeProcessFailed.String()
}

// Is 透传标准库errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As 透传标准库errors.As
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

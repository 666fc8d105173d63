package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level          string `yaml:"level"`           // debug, info, warn, error
	Output         string `yaml:"output"`          // stdout, file, both
	FilePath       string `yaml:"file_path"`       // 日志文件路径
	Format         string `yaml:"format"`          // json, console
	EnableSampling bool   `yaml:"enable_sampling"` // 是否启用采样
	MaxSize        int    `yaml:"max_size"`        // 日志文件最大大小(MB)
	MaxAge         int    `yaml:"max_age"`         // 日志文件最大保留天数
	MaxBackups     int    `yaml:"max_backups"`     // 日志文件最大备份数
}

// New 按配置创建logger，由调用方注入各组件
func New(cfg Config) (*zap.Logger, error) {
	// 解析日志级别
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core

	// 标准输出
	if cfg.Output == "stdout" || cfg.Output == "both" {
		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(os.Stdout),
			level,
		))
	}

	// 文件输出
	if cfg.Output == "file" || cfg.Output == "both" {
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("log.file_path is required when output is %q", cfg.Output)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(fileWriter),
			level,
		))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}

	core := zapcore.NewTee(cores...)

	// 采样配置
	if cfg.EnableSampling {
		core = zapcore.NewSamplerWithOptions(
			core,
			time.Second,
			100,  // 每秒前100条日志全部记录
			1000, // 之后每1000条记录1条
		)
	}

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

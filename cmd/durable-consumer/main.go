package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/internal/consumer"
	"github.com/durable-consumer/durable-consumer/internal/pipeline"
	"github.com/durable-consumer/durable-consumer/internal/processor"
	"github.com/durable-consumer/durable-consumer/internal/server"
	"github.com/durable-consumer/durable-consumer/pkg/logger"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "config file path")
	version    = "1.0.0"
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	fmt.Printf("durable-consumer v%s\n", version)
	fmt.Printf("Loading config from: %s\n", *configPath)

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return 1
	}

	// 2. 初始化日志
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	log.Info("durable-consumer starting",
		zap.String("version", version),
		zap.String("config", cfg.String()),
	)

	// 3. 创建处理器
	proc, err := processor.Build(cfg.Processor, log.Named("processor"))
	if err != nil {
		log.Error("failed to build processor", zap.Error(err))
		return 1
	}

	// 4. 创建Consumer
	kafkaConsumer, err := consumer.NewFranzConsumer(cfg.Kafka, log.Named("kafka"))
	if err != nil {
		log.Error("failed to create kafka consumer", zap.Error(err))
		processor.Close(proc)
		return 1
	}

	// 5. 创建Pipeline，Run结束时关闭consumer和处理器
	p := pipeline.New(cfg, kafkaConsumer, proc, log.Named("pipeline"))

	// 6. 启动HTTP服务器
	srv := server.NewServer(cfg, p.Ready, log.Named("server"))
	if err := srv.Start(); err != nil {
		log.Error("failed to start server", zap.Error(err))
		return 1
	}

	// 7. 运行到收到信号或到达停止offset
	res := p.Run(context.Background())

	// 8. 停止HTTP服务器
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop server", zap.Error(err))
	}

	if res.Status != pipeline.StatusSuccess {
		log.Error("durable-consumer stopped with error", zap.Error(res.Error))
		return 1
	}
	log.Info("durable-consumer stopped",
		zap.String("stop_cause", res.StopCause),
		zap.Bool("clean_shutdown", res.Metrics.CleanShutdown),
	)
	return 0
}

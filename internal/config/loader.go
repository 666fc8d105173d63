package config

import (
	"os"
	"strings"

	"github.com/durable-consumer/durable-consumer/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	// 读取文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err)
	}

	return Parse(data)
}

// Parse 解析YAML配置，未设置的字段使用默认值
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err)
	}

	// 从环境变量覆盖敏感信息
	if password := os.Getenv("MYSQL_PASSWORD"); password != "" {
		cfg.Processor.MySQL.Password = password
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	// 验证配置
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

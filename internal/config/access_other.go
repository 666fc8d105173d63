//go:build !unix

package config

import "os"

// checkWritable 尝试在目录中创建临时文件
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".durable-consumer-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

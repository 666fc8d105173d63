//go:build unix

package config

import "golang.org/x/sys/unix"

// checkWritable 检查当前用户对目录是否有写权限
func checkWritable(dir string) error {
	return unix.Access(dir, unix.W_OK)
}

package state

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Role 执行单元角色
type Role string

const (
	RolePoller     Role = "poller"
	RoleWorker     Role = "worker"
	RoleCommitter  Role = "committer"
	RoleAudit      Role = "audit_writer"
	RoleDeadLetter Role = "dead_letter_writer"
)

// Unit 一个长期运行的goroutine
type Unit struct {
	name string
	role Role
	done chan struct{}
}

// Name 单元名称
func (u *Unit) Name() string { return u.name }

// Role 单元角色
func (u *Unit) Role() Role { return u.role }

// Done 单元退出后关闭
func (u *Unit) Done() <-chan struct{} { return u.done }

// Alive 单元是否仍在运行
func (u *Unit) Alive() bool { return !Fired(u.done) }

// Join 等待单元退出，最多timeout；返回是否已退出
func (u *Unit) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		return !u.Alive()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-u.done:
		return true
	case <-timer.C:
		return false
	}
}

// Spawn 启动并登记执行单元；单元panic时清除运行标记
func (s *SharedState) Spawn(role Role, name string, fn func()) *Unit {
	u := &Unit{name: name, role: role, done: make(chan struct{})}

	s.mu.Lock()
	s.units[role] = append(s.units[role], u)
	s.mu.Unlock()

	go func() {
		defer close(u.done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("unit crashed",
					zap.String("unit", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				s.Stop(fmt.Errorf("unit %s crashed: %v", name, r))
			}
		}()
		fn()
	}()

	return u
}

// Units 返回某角色已启动的单元
func (s *SharedState) Units(role Role) []*Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Unit(nil), s.units[role]...)
}

// JoinShared 用同一个预算等待所有单元，预算在每次Join返回后递减；返回仍存活的单元数
func JoinShared(units []*Unit, budget time.Duration) int {
	start := time.Now()

	for _, u := range units {
		remaining := budget - time.Since(start)
		if remaining <= 0 {
			break
		}
		// 已退出的单元立即返回
		u.Join(remaining)
	}

	alive := 0
	for _, u := range units {
		if u.Alive() {
			alive++
		}
	}
	return alive
}

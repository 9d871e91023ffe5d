package bbgo

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/betbot/blackpanther/pkg/persistence"
	"github.com/betbot/blackpanther/pkg/shutdown"
)

var envLog = logrus.WithField("component", "environment")

// Environment 策略共享的进程级资源：策略状态持久化与关闭回调
type Environment struct {
	persistence persistence.Service
	shutdown    *shutdown.Manager
}

func NewEnvironment(ps persistence.Service) *Environment {
	return &Environment{persistence: ps, shutdown: shutdown.NewManager()}
}

// Persistence 未配置时为 nil，策略状态只保存在内存中
func (e *Environment) Persistence() persistence.Service { return e.persistence }

// OnShutdown 登记组件关闭回调
func (e *Environment) OnShutdown(component string, fn shutdown.Handler) {
	e.shutdown.OnShutdown(component, fn)
}

// Shutdown 执行全部关闭回调，ctx 应带超时
func (e *Environment) Shutdown(ctx context.Context) {
	if pending := e.shutdown.Shutdown(ctx); len(pending) > 0 {
		envLog.Warnf("⏱️ 关闭超时，仍未退出的组件: %v", pending)
		return
	}
	envLog.Info("关闭回调已全部完成")
}

package shutdown

import (
	"context"
	"sort"
	"sync"

	"github.com/betbot/blackpanther/pkg/logger"
)

// Handler 关闭处理函数，需在 ctx 结束前返回
type Handler func(ctx context.Context)

type entry struct {
	name string
	fn   Handler
}

// Manager 按组件名登记关闭回调，关闭时并发执行
type Manager struct {
	mu      sync.Mutex
	entries []entry
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 登记组件的关闭回调，name 用于超时时定位未退出的组件
func (m *Manager) OnShutdown(name string, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{name: name, fn: fn})
}

// Shutdown 并发执行所有回调直到全部完成或 ctx 结束，返回未按时完成的组件名（已排序）。
// 超时后未完成的回调继续在后台运行。
func (m *Manager) Shutdown(ctx context.Context) []string {
	m.mu.Lock()
	entries := append([]entry(nil), m.entries...)
	m.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	logger.Infof("开始优雅关闭，共 %d 个组件", len(entries))

	var (
		mu      sync.Mutex
		pending = make(map[string]int, len(entries))
		wg      sync.WaitGroup
	)
	for _, e := range entries {
		pending[e.name]++
	}
	wg.Add(len(entries))
	for _, e := range entries {
		go func(e entry) {
			defer wg.Done()
			e.fn(ctx)
			mu.Lock()
			if pending[e.name]--; pending[e.name] == 0 {
				delete(pending, e.name)
			}
			mu.Unlock()
		}(e)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(pending))
	for name := range pending {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package syncgroup

import (
	"sort"
	"sync"
)

type task struct {
	name string
	fn   func()
}

// SyncGroup 管理一组具名的常驻 goroutine：先 Add 再 Run，Running 可查询尚未退出的任务
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []task
	running map[string]int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{running: make(map[string]int)}
}

// Add 登记待启动的任务；Run 之后 Add 的任务在下一次 Run 时启动
func (g *SyncGroup) Add(name string, fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = append(g.pending, task{name: name, fn: fn})
}

// Run 启动所有已登记的任务
func (g *SyncGroup) Run() {
	g.mu.Lock()
	tasks := g.pending
	g.pending = nil
	for _, t := range tasks {
		g.running[t.name]++
	}
	g.wg.Add(len(tasks))
	g.mu.Unlock()

	for _, t := range tasks {
		go func(t task) {
			defer g.finish(t.name)
			t.fn()
		}(t)
	}
}

func (g *SyncGroup) finish(name string) {
	g.mu.Lock()
	if g.running[name]--; g.running[name] <= 0 {
		delete(g.running, name)
	}
	g.mu.Unlock()
	g.wg.Done()
}

// Running 仍在运行的任务名（已排序）
func (g *SyncGroup) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.running))
	for name := range g.running {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Wait 等待所有任务完成
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitC 所有任务完成后关闭的 channel，便于配合 select 超时
func (g *SyncGroup) WaitC() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	return done
}

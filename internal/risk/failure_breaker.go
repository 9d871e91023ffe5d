package risk

import (
	"sync"
	"sync/atomic"
)

// TripFunc 组件连续失败达到上限时调用（每次达到上限只调用一次）
type TripFunc func(component string, failures int64)

// FailureBreaker 按组件统计连续失败次数。
// 约定：max <= 0 表示关闭限制。
type FailureBreaker struct {
	max    int64
	onTrip TripFunc

	mu     sync.Mutex
	counts map[string]*atomic.Int64
}

func NewFailureBreaker(max int, onTrip TripFunc) *FailureBreaker {
	return &FailureBreaker{
		max:    int64(max),
		onTrip: onTrip,
		counts: make(map[string]*atomic.Int64),
	}
}

func (b *FailureBreaker) counter(component string) *atomic.Int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counts[component]
	if !ok {
		c = &atomic.Int64{}
		b.counts[component] = c
	}
	return c
}

// OnSuccess 一次成功执行后清空连续失败计数
func (b *FailureBreaker) OnSuccess(component string) {
	if b == nil {
		return
	}
	b.counter(component).Store(0)
}

// OnError 累计连续失败；恰好达到上限时触发 onTrip 并返回 true
func (b *FailureBreaker) OnError(component string) bool {
	if b == nil {
		return false
	}
	n := b.counter(component).Add(1)
	if b.max <= 0 || n != b.max {
		return false
	}
	log.Errorf("🚨 组件 %s 连续失败 %d 次", component, n)
	if b.onTrip != nil {
		b.onTrip(component, n)
	}
	return true
}

// Failures 当前连续失败次数
func (b *FailureBreaker) Failures(component string) int64 {
	if b == nil {
		return 0
	}
	return b.counter(component).Load()
}

package bbgo

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 按 ID 登记策略工厂，F 为调用方的工厂函数类型
type Registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
}

func NewRegistry[F any]() *Registry[F] {
	return &Registry[F]{factories: make(map[string]F)}
}

// Register 在 init() 中调用；重复 ID 直接 panic
func (r *Registry[F]) Register(id string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[id]; dup {
		panic(fmt.Errorf("strategy %s already registered", id))
	}
	r.factories[id] = f
}

// Lookup 未注册时错误信息附带已注册的 ID
func (r *Registry[F]) Lookup(id string) (F, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		var zero F
		return zero, fmt.Errorf("strategy %s not registered (known: %v)", id, r.IDs())
	}
	return f, nil
}

// IDs 已注册的策略 ID，按字母排序
func (r *Registry[F]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

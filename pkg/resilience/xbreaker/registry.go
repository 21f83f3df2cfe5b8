package xbreaker

import (
	"slices"
	"strings"
	"sync"
)

// Registry 按端点键管理熔断器，同一进程内的并发摄取流共享同一个实例。
//
// 不是包级单例，由调用方创建并注入到抓取器中。
type Registry struct {
	opts []BreakerOption

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry 创建注册表，opts 应用于之后创建的每个熔断器。
func NewRegistry(opts ...BreakerOption) *Registry {
	return &Registry{
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get 返回 key 对应的熔断器，不存在时以 Closed 状态创建。
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := NewBreaker(key, r.opts...)
	r.breakers[key] = b
	return b
}

// Allow 在 key 对应的熔断器上申请一次尝试。
func (r *Registry) Allow(key string) (*Attempt, error) {
	return r.Get(key).Allow()
}

// RecordSuccess 为不持有 Attempt 的调用方记录一次成功。
// 熔断器拒绝时静默忽略。
func (r *Registry) RecordSuccess(key string) {
	if a, err := r.Allow(key); err == nil {
		a.Success()
	}
}

// RecordFailure 为不持有 Attempt 的调用方记录一次失败。
// 熔断器拒绝时静默忽略，拒绝不算新的故障。
func (r *Registry) RecordFailure(key string) {
	if a, err := r.Allow(key); err == nil {
		a.Failure()
	}
}

// Len 返回已创建的熔断器数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}

// Snapshots 返回所有熔断器的快照，按名称排序。
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	slices.SortFunc(out, func(a, b Snapshot) int { return strings.Compare(a.Name, b.Name) })
	return out
}

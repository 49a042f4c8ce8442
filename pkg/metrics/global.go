package metrics

import (
	"sync"
)

var (
	globalMetrics *Metrics
	mu            sync.RWMutex
)

// SetGlobal 设置全局指标实例
func SetGlobal(m *Metrics) {
	mu.Lock()
	defer mu.Unlock()
	globalMetrics = m
}

// Global 获取全局指标实例，未设置时惰性创建
func Global() *Metrics {
	mu.RLock()
	m := globalMetrics
	mu.RUnlock()
	if m != nil {
		return m
	}
	mu.Lock()
	defer mu.Unlock()
	if globalMetrics == nil {
		globalMetrics = NewMetrics()
	}
	return globalMetrics
}

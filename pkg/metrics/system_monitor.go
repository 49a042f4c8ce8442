package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"LifeSync/pkg/scheduler"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMonitor 定期采集主机与进程资源并写入 Gauge
type SystemMonitor struct {
	metrics  *Metrics
	interval time.Duration
}

// NewSystemMonitor 创建系统监控器
func NewSystemMonitor(m *Metrics, interval time.Duration) *SystemMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemMonitor{metrics: m, interval: interval}
}

// Start 挂到调度器上按 interval 采集
func (sm *SystemMonitor) Start(s *scheduler.Scheduler) {
	s.Every(sm.interval, scheduler.FuncJob(sm.Run))
}

func (sm *SystemMonitor) Run(ctx context.Context) { sm.Collect() }

// Collect 采集一次
func (sm *SystemMonitor) Collect() {
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		sm.metrics.SetSystemCPUUsage(cpuPercent[0])
	}
	if vmstat, err := mem.VirtualMemory(); err == nil {
		sm.metrics.SetSystemMemoryUsage("used", vmstat.Used)
		sm.metrics.SetSystemMemoryUsage("available", vmstat.Available)
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			sm.metrics.SetSystemMemoryUsage("rss", info.RSS)
		}
	}
	sm.metrics.SetSystemGoroutines(runtime.NumGoroutine())
}

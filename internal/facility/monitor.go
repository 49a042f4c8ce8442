package facility

import (
	"context"
	"time"

	"LifeSync/pkg/logger"
	"LifeSync/pkg/scheduler"

	"go.uber.org/zap"
)

// Prober 探测医院侧服务是否健康
type Prober interface {
	Probe(ctx context.Context, target string) (bool, error)
}

// HealthMonitor 周期性探测配置了 ProbeTarget 的医院，其余医院按心跳超时判定
type HealthMonitor struct {
	registry        *Registry
	prober          Prober
	probeTimeout    time.Duration
	heartbeatMaxAge time.Duration
	log             *zap.Logger
}

func NewHealthMonitor(registry *Registry, prober Prober, probeTimeout, heartbeatMaxAge time.Duration) *HealthMonitor {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &HealthMonitor{
		registry:        registry,
		prober:          prober,
		probeTimeout:    probeTimeout,
		heartbeatMaxAge: heartbeatMaxAge,
		log:             logger.Named("facility.monitor"),
	}
}

// Run 执行一轮探测
func (m *HealthMonitor) Run(ctx context.Context) {
	if m.prober != nil {
		for _, f := range m.registry.Snapshot() {
			if f.ProbeTarget == "" {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
			ok, err := m.prober.Probe(pctx, f.ProbeTarget)
			cancel()
			if err != nil {
				m.log.Debug("probe failed", zap.String("facility", f.ID), zap.Error(err))
			}
			if ok {
				_ = m.registry.Heartbeat(f.ID, time.Time{})
			} else if f.Reachable {
				_ = m.registry.MarkUnreachable(f.ID)
			}
		}
	}
	if stale := m.registry.SweepStale(m.heartbeatMaxAge); len(stale) > 0 {
		m.log.Warn("facilities missed heartbeat", zap.Strings("facilities", stale))
	}
}

// Start 挂到调度器上按 interval 执行
func (m *HealthMonitor) Start(s *scheduler.Scheduler, interval time.Duration) {
	s.Every(interval, scheduler.FuncJob(m.Run))
}

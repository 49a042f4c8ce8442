package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标管理器，每个实例拥有独立的 Registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	// 限流
	rateLimitTotal *prometheus.CounterVec

	// 业务指标
	sessionsActivated   prometheus.Counter
	sessionTransitions  *prometheus.CounterVec
	sessionsAbandoned   *prometheus.CounterVec
	sessionsByState     *prometheus.GaugeVec
	timeToAssignment    prometheus.Histogram
	reservationOutcomes *prometheus.CounterVec
	facilityBeds        *prometheus.GaugeVec
	facilityReachable   *prometheus.GaugeVec
	deliveries          *prometheus.CounterVec

	// 系统指标
	systemMemoryUsage *prometheus.GaugeVec
	systemCPUUsage    prometheus.Gauge
	systemGoroutines  prometheus.Gauge
}

// NewMetrics 创建指标管理器
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		cacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "operation"},
		),
		cacheMissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "operation"},
		),
		rateLimitTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_requests_total",
				Help: "Requests seen by the rate limiter",
			},
			[]string{"route", "result"},
		),

		sessionsActivated: f.NewCounter(prometheus.CounterOpts{
			Name: "sos_sessions_activated_total",
			Help: "Total number of SOS activations",
		}),
		sessionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sos_session_transitions_total",
				Help: "Session state transitions",
			},
			[]string{"from", "to"},
		),
		sessionsAbandoned: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sos_sessions_abandoned_total",
				Help: "Sessions that ended abandoned, by reason",
			},
			[]string{"reason"},
		),
		sessionsByState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sos_sessions",
				Help: "Live sessions by state",
			},
			[]string{"state"},
		),
		timeToAssignment: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sos_time_to_assignment_seconds",
			Help:    "Time from activation to first assignment",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		reservationOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sos_reservation_outcomes_total",
				Help: "Facility reservation outcomes",
			},
			[]string{"outcome"},
		),
		facilityBeds: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "facility_available_beds",
				Help: "Available beds per facility",
			},
			[]string{"facility"},
		),
		facilityReachable: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "facility_reachable",
				Help: "1 when the facility is reachable",
			},
			[]string{"facility"},
		),
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_deliveries_total",
				Help: "Notification delivery results by recipient kind",
			},
			[]string{"recipient", "state"},
		),

		systemMemoryUsage: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "system_memory_usage_bytes",
				Help: "System memory usage in bytes",
			},
			[]string{"type"},
		),
		systemCPUUsage: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "System CPU usage percentage",
		}),
		systemGoroutines: f.NewGauge(prometheus.GaugeOpts{
			Name: "system_goroutines",
			Help: "Number of goroutines",
		}),
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler 暴露 /metrics
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}

func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录HTTP请求指标
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCacheHit 记录缓存命中
func (m *Metrics) RecordCacheHit(cacheType, operation string) {
	m.cacheHitsTotal.WithLabelValues(cacheType, operation).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (m *Metrics) RecordCacheMiss(cacheType, operation string) {
	m.cacheMissesTotal.WithLabelValues(cacheType, operation).Inc()
}

// OnAllow / OnDeny 供限流中间件上报
func (m *Metrics) OnAllow(route, key string) { m.rateLimitTotal.WithLabelValues(route, "allow").Inc() }
func (m *Metrics) OnDeny(route, key string)  { m.rateLimitTotal.WithLabelValues(route, "deny").Inc() }

func (m *Metrics) RecordActivation() {
	m.sessionsActivated.Inc()
	m.sessionsByState.WithLabelValues("activated").Inc()
}

// RecordTransition 记录状态迁移并维护各状态的存量
func (m *Metrics) RecordTransition(from, to string) {
	m.sessionTransitions.WithLabelValues(from, to).Inc()
	m.sessionsByState.WithLabelValues(from).Dec()
	switch to {
	case "resolved", "abandoned":
	default:
		m.sessionsByState.WithLabelValues(to).Inc()
	}
}

// RecordRestored 重启恢复的会话计入存量
func (m *Metrics) RecordRestored(state string) {
	m.sessionsByState.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordAbandoned(reason string) {
	m.sessionsAbandoned.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveTimeToAssignment(d time.Duration) {
	m.timeToAssignment.Observe(d.Seconds())
}

func (m *Metrics) RecordReservation(outcome string) {
	m.reservationOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetFacilityBeds(facility string, beds int) {
	m.facilityBeds.WithLabelValues(facility).Set(float64(beds))
}

func (m *Metrics) SetFacilityReachable(facility string, reachable bool) {
	v := 0.0
	if reachable {
		v = 1
	}
	m.facilityReachable.WithLabelValues(facility).Set(v)
}

func (m *Metrics) RecordDelivery(recipient, state string) {
	m.deliveries.WithLabelValues(recipient, state).Inc()
}

// SetSystemMemoryUsage 设置系统内存使用量
func (m *Metrics) SetSystemMemoryUsage(memoryType string, bytes uint64) {
	m.systemMemoryUsage.WithLabelValues(memoryType).Set(float64(bytes))
}

// SetSystemCPUUsage 设置系统CPU使用率
func (m *Metrics) SetSystemCPUUsage(percentage float64) {
	m.systemCPUUsage.Set(percentage)
}

// SetSystemGoroutines 设置goroutine数量
func (m *Metrics) SetSystemGoroutines(count int) {
	m.systemGoroutines.Set(float64(count))
}

package handlers

import (
	"net/http"

	"LifeSync/internal/listeners"
	"LifeSync/pkg/middleware"
	"LifeSync/pkg/response"

	"github.com/gin-gonic/gin"
)

// UpdateRateLimiterConfig 更新限流配置
func (h *Handlers) UpdateRateLimiterConfig(c *gin.Context) {
	var config middleware.RateLimiterConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}

	// 更新限流配置
	h.Limiter.UpdateConfig(config)
	response.Success(c, "rate limiter config updated", nil)
}

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	status := gin.H{"status": "healthy"}
	if h.DB != nil {
		// 检查数据库连接
		sqlDB, err := h.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
			return
		}
	}
	if h.Registry != nil {
		status["facilities"] = len(h.Registry.Snapshot())
	}
	if h.WS != nil {
		status["connections"] = h.WS.GetConnectionCount()
	}

	// 返回健康状态
	c.JSON(http.StatusOK, status)
}

// handleFacilityEvents 医院控制台事件流：预约请求与分配给本院的会话事件
func (h *Handlers) handleFacilityEvents(c *gin.Context) {
	if _, err := h.Registry.Get(c.Param("facilityId")); err != nil {
		response.Error(c, err)
		return
	}
	h.Events.Serve(c, c.Param("facilityId"))
}

// handleOpsEvents 调度中心事件流
func (h *Handlers) handleOpsEvents(c *gin.Context) {
	h.Events.Serve(c, listeners.OpsGroup)
}

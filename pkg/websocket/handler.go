package websocket

import (
	"net/http"
	"time"

	"LifeSync/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler WebSocket HTTP处理器
type Handler struct {
	hub *Hub
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes 统一注册路由
func RegisterRoutes(r gin.IRouter, handler *Handler) {
	r.GET("/ws", handler.HandleWebSocket)
	r.GET("/ws/stats", handler.GetStats)
	r.GET("/ws/health", handler.HealthCheck)
}

// HandleWebSocket 处理WebSocket连接请求，?user= 为公民ID或 facility:<id>
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		response.Fail(c, "user is required", nil)
		return
	}
	HandleWebSocket(h.hub, c.Writer, c.Request, userID)
}

// GetStats 获取WebSocket统计信息
func (h *Handler) GetStats(c *gin.Context) {
	stats := gin.H{
		"total_connections": h.hub.GetConnectionCount(),
		"max_connections":   h.hub.config.MaxConnections,
	}
	if user := c.Query("user"); user != "" {
		stats["user_connections"] = h.hub.GetUserConnections(user)
	}
	if group := c.Query("group"); group != "" {
		stats["group_connections"] = h.hub.GetGroupConnections(group)
	}
	response.Success(c, "ok", stats)
}

// HealthCheck 检查Hub是否运行
func (h *Handler) HealthCheck(c *gin.Context) {
	if h.hub.ctx.Err() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  h.hub.ctx.Err().Error(),
		})
		return
	}

	total := h.hub.GetConnectionCount()
	status := "healthy"
	if limit := h.hub.config.MaxConnections; limit > 0 && total >= limit*9/10 {
		status = "warning"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"total_connections": total,
		"timestamp":         time.Now().Unix(),
	})
}

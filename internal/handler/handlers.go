package handlers

import (
	"time"

	"LifeSync/internal/dispatch"
	"LifeSync/internal/facility"
	"LifeSync/internal/session"
	"LifeSync/pkg/cache"
	"LifeSync/pkg/i18n"
	"LifeSync/pkg/metrics"
	"LifeSync/pkg/middleware"
	"LifeSync/pkg/sse"
	"LifeSync/pkg/websocket"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps 路由层依赖，可选项为空时对应路由或中间件不注册
type Deps struct {
	DB       *gorm.DB
	Registry *facility.Registry
	Ranker   *facility.Ranker
	Sessions *session.Manager
	Console  *dispatch.ConsoleReserver // auto 模式下为空
	WS       *websocket.Hub
	Events   *sse.Hub
	Metrics  *metrics.Metrics
	I18n     *i18n.I18nSupport
	Limiter  *middleware.RateLimiter
	Idem     cache.Cache

	APIPrefix     string
	MonitorPrefix string
	ConsoleSecret string
	IdemTTL       time.Duration
}

type Handlers struct {
	Deps
}

func NewHandlers(deps Deps) *Handlers {
	if deps.APIPrefix == "" {
		deps.APIPrefix = "/api"
	}
	if deps.MonitorPrefix == "" {
		deps.MonitorPrefix = "/metrics"
	}
	return &Handlers{Deps: deps}
}

func (h *Handlers) Register(engine *gin.Engine) {
	engine.Use(middleware.AccessLogMiddleware())
	if h.Metrics != nil {
		engine.Use(metrics.MonitorMiddleware(h.Metrics))
		engine.GET(h.MonitorPrefix, h.Metrics.Handler())
	}

	// Register System Module Routes
	h.registerSystemRoutes(engine)

	r := engine.Group(h.APIPrefix)
	r.Use(middleware.LanguageMiddleware(h.I18n))

	// Register Business Module Routes
	h.registerSOSRoutes(r)
	h.registerFacilityRoutes(r)
}

// SOS Module
func (h *Handlers) registerSOSRoutes(r *gin.RouterGroup) {
	sos := r.Group("/sos")
	{
		activate := []gin.HandlerFunc{}
		if h.Limiter != nil {
			activate = append(activate, h.Limiter.Middleware())
		}
		activate = append(activate,
			middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{TTL: h.IdemTTL, Store: h.Idem, Metrics: h.Metrics}),
			h.handleActivate,
		)
		sos.POST("/activate", activate...)
		sos.POST("/cancel", h.handleCancel)
		sos.POST("/location", h.handleLocation)

		sos.GET("/:id", h.handleGetSession)
		// 医院控制台的操作需要签名
		console := middleware.SignVerifyMiddleware(h.ConsoleSecret, 0)
		sos.POST("/:id/confirm", console, h.handleConfirm)
		sos.POST("/:id/reject", console, h.handleReject)
		sos.POST("/:id/resolve", h.handleResolve)
	}
	r.GET("/citizens/:citizenId/sos", h.handleActiveSession)
	r.POST("/geo/fixes", h.handleIngestFix)
}

// Facility Module
func (h *Handlers) registerFacilityRoutes(r *gin.RouterGroup) {
	fac := r.Group("/facilities")
	{
		fac.POST("", h.handleRegisterFacility)
		fac.GET("", h.handleListFacilities)
		fac.GET("/rank", h.handleRank)
		fac.GET("/:id", h.handleGetFacility)
		fac.POST("/:id/capacity", h.handleCapacity)
		fac.POST("/:id/reachable", h.handleReachable)
		fac.POST("/:id/unreachable", h.handleUnreachable)
		fac.POST("/:id/heartbeat", h.handleHeartbeat)

		fac.GET("/:id/reservations", h.handlePendingReservations)
		fac.POST("/:id/reservations/:sessionId",
			middleware.SignVerifyMiddleware(h.ConsoleSecret, 0),
			h.handleAnswerReservation)
	}
}

// System Module
func (h *Handlers) registerSystemRoutes(engine *gin.Engine) {
	engine.GET("/health", h.HealthCheck)
	if h.Events != nil {
		engine.GET("/events", h.handleOpsEvents)
		engine.GET("/events/:facilityId", h.handleFacilityEvents)
	}
	if h.WS != nil {
		websocket.RegisterRoutes(engine, websocket.NewHandler(h.WS))
	}
	if h.Limiter != nil {
		engine.PUT(h.APIPrefix+"/system/rate-limiter", h.UpdateRateLimiterConfig)
	}
}

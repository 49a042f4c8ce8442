package handlers

import (
	"time"

	"LifeSync/internal/models"
	"LifeSync/internal/session"
	apperr "LifeSync/pkg/errors"
	"LifeSync/pkg/middleware"
	"LifeSync/pkg/response"

	"github.com/gin-gonic/gin"
)

type sessionRef struct {
	SessionID string `json:"sessionId" binding:"required"`
}

type locationReq struct {
	SessionID  string            `json:"sessionId" binding:"required"`
	Coordinate models.Coordinate `json:"coordinate"`
}

type rejectReq struct {
	FacilityID string `json:"facilityId" binding:"required"`
}

type fixReq struct {
	CitizenID  string            `json:"citizenId" binding:"required"`
	Coordinate models.Coordinate `json:"coordinate"`
	Timestamp  time.Time         `json:"timestamp"`
}

// handleActivate 市民发起求救，未指定语言时取请求语言
func (h *Handlers) handleActivate(c *gin.Context) {
	var req session.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	if req.Locale == "" {
		req.Locale = c.GetString(middleware.LangKey)
	}
	s, err := h.Sessions.Activate(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "sos activated", gin.H{"sessionId": s.ID, "state": s.State})
}

func (h *Handlers) handleCancel(c *gin.Context) {
	var req sessionRef
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	if err := h.Sessions.Cancel(req.SessionID, true); err != nil {
		response.Error(c, err)
		return
	}
	h.respondSession(c, req.SessionID, "sos cancelled")
}

func (h *Handlers) handleLocation(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	if err := h.Sessions.UpdateLocation(req.SessionID, req.Coordinate); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location updated", nil)
}

func (h *Handlers) handleGetSession(c *gin.Context) {
	s, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", s)
}

func (h *Handlers) handleActiveSession(c *gin.Context) {
	s, err := h.Sessions.ActiveFor(c.Param("citizenId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", s)
}

// handleConfirm 当前分配的医院确认出车，可附带司机联系方式
func (h *Handlers) handleConfirm(c *gin.Context) {
	var req session.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	id := c.Param("id")
	if err := h.Sessions.ConfirmDispatch(id, req); err != nil {
		response.Error(c, err)
		return
	}
	h.respondSession(c, id, "dispatch confirmed")
}

func (h *Handlers) handleReject(c *gin.Context) {
	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	id := c.Param("id")
	if err := h.Sessions.RejectAssignment(id, req.FacilityID); err != nil {
		response.Error(c, err)
		return
	}
	h.respondSession(c, id, "assignment rejected")
}

func (h *Handlers) handleResolve(c *gin.Context) {
	id := c.Param("id")
	if err := h.Sessions.Resolve(id); err != nil {
		response.Error(c, err)
		return
	}
	h.respondSession(c, id, "sos resolved")
}

// handleIngestFix 定位服务上报的坐标，无活动会话时忽略
func (h *Handlers) handleIngestFix(c *gin.Context) {
	var req fixReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	applied, err := h.Sessions.IngestFix(req.CitizenID, req.Coordinate, req.Timestamp)
	if err != nil && apperr.GetCode(err) != apperr.CodeNotFound {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", gin.H{"applied": applied})
}

func (h *Handlers) respondSession(c *gin.Context, id, msg string) {
	s, err := h.Sessions.Get(id)
	if err != nil {
		response.Success(c, msg, nil)
		return
	}
	response.Success(c, msg, s)
}

package handlers

import (
	"strings"
	"time"

	"LifeSync/internal/models"
	apperr "LifeSync/pkg/errors"
	"LifeSync/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

type capacityReq struct {
	Delta int `json:"delta"`
}

type answerReq struct {
	Accept bool `json:"accept"`
}

// coordinateQuery 解析 ?lat=&lon=
func coordinateQuery(c *gin.Context) (models.Coordinate, error) {
	lat, err := cast.ToFloat64E(c.Query("lat"))
	if err != nil || c.Query("lat") == "" {
		return models.Coordinate{}, apperr.WithCode(apperr.CodeInvalidArgument, "lat is required")
	}
	lon, err := cast.ToFloat64E(c.Query("lon"))
	if err != nil || c.Query("lon") == "" {
		return models.Coordinate{}, apperr.WithCode(apperr.CodeInvalidArgument, "lon is required")
	}
	at := models.Coordinate{Latitude: lat, Longitude: lon}
	if !at.Valid() {
		return at, apperr.WithCodef(apperr.CodeInvalidArgument, "invalid coordinate %s", at)
	}
	return at, nil
}

// handleRegisterFacility ?force=1 时覆盖已有医院的静态属性
func (h *Handlers) handleRegisterFacility(c *gin.Context) {
	var f models.Facility
	if err := c.ShouldBindJSON(&f); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	force := cast.ToBool(c.Query("force"))
	if err := h.Registry.Register(f, force); err != nil {
		response.Error(c, err)
		return
	}
	stored, _ := h.Registry.Get(f.ID)
	response.Created(c, "facility registered", stored)
}

func (h *Handlers) handleListFacilities(c *gin.Context) {
	if c.Query("lat") == "" && c.Query("lon") == "" {
		response.Success(c, "ok", h.Registry.Snapshot())
		return
	}
	at, err := coordinateQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.Registry.List(c.Request.Context(), at, cast.ToFloat64(c.Query("radiusKm")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", list)
}

func (h *Handlers) handleGetFacility(c *gin.Context) {
	f, err := h.Registry.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", f)
}

// handleRank ?caps=ICU,trauma
func (h *Handlers) handleRank(c *gin.Context) {
	at, err := coordinateQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var caps []string
	for _, p := range strings.Split(c.Query("caps"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			caps = append(caps, p)
		}
	}
	list, err := h.Ranker.Rank(c.Request.Context(), at, caps)
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []models.RankedCandidate{}
	}
	response.Success(c, "ok", list)
}

func (h *Handlers) handleCapacity(c *gin.Context) {
	var req capacityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	beds, err := h.Registry.UpdateCapacity(c.Param("id"), req.Delta)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "capacity updated", gin.H{"availableBeds": beds})
}

func (h *Handlers) handleReachable(c *gin.Context) {
	if err := h.Registry.MarkReachable(c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "facility reachable", nil)
}

func (h *Handlers) handleUnreachable(c *gin.Context) {
	if err := h.Registry.MarkUnreachable(c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "facility unreachable", nil)
}

func (h *Handlers) handleHeartbeat(c *gin.Context) {
	if err := h.Registry.Heartbeat(c.Param("id"), time.Now()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "ok", nil)
}

func (h *Handlers) handlePendingReservations(c *gin.Context) {
	if h.Console == nil {
		response.Success(c, "ok", []interface{}{})
		return
	}
	list := h.Console.Pending(c.Param("id"))
	if list == nil {
		response.Success(c, "ok", []interface{}{})
		return
	}
	response.Success(c, "ok", list)
}

// handleAnswerReservation 医院控制台对预约请求的答复
func (h *Handlers) handleAnswerReservation(c *gin.Context) {
	if h.Console == nil {
		response.Error(c, apperr.WithCode(apperr.CodeUnavailable, "reservations are answered automatically"))
		return
	}
	var req answerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request", nil)
		return
	}
	if err := h.Console.Answer(c.Param("id"), c.Param("sessionId"), req.Accept); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "reservation answered", gin.H{"accept": req.Accept})
}

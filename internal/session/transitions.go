package session

import (
	"strings"
	"time"

	"LifeSync/internal/models"
	apperr "LifeSync/pkg/errors"

	"go.uber.org/zap"
)

// ConfirmRequest 医院确认出车，只接受当前分配的医院
type ConfirmRequest struct {
	FacilityID    string `json:"facilityId"`
	DriverContact string `json:"driverContact,omitempty"`
}

// maxDriverContact 司机联系方式的最大长度
const maxDriverContact = 32

// ConfirmDispatch 医院确认出车：Assigned -> EnRoute。
// 已被改派的医院迟到的确认返回 InvalidArgument，会话保持原状。
func (m *Manager) ConfirmDispatch(sessionID string, req ConfirmRequest) error {
	req.FacilityID = strings.TrimSpace(req.FacilityID)
	req.DriverContact = strings.TrimSpace(req.DriverContact)
	if req.FacilityID == "" {
		return apperr.WithCode(apperr.CodeInvalidArgument, "facilityId is required")
	}
	if len(req.DriverContact) > maxDriverContact {
		return apperr.WithCodef(apperr.CodeInvalidArgument, "driverContact longer than %d", maxDriverContact)
	}
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != models.StateAssigned {
		return m.transitionLocked(e, models.StateEnRoute, models.ReasonNone)
	}
	if fid := e.s.AssignedFacility(); fid != req.FacilityID {
		m.log.Warn("confirm from unassigned facility",
			zap.String("session", sessionID),
			zap.String("assigned", fid),
			zap.String("facility", req.FacilityID))
		return apperr.WithCodef(apperr.CodeInvalidArgument, "session %s is assigned to %s, not %s", sessionID, fid, req.FacilityID)
	}
	m.stopConfirmLocked(e)
	e.s.DriverContact = req.DriverContact
	return m.transitionLocked(e, models.StateEnRoute, models.ReasonNone)
}

// Resolve 任意非终态 -> Resolved，归还床位
func (m *Manager) Resolve(sessionID string) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.finishLocked(e, models.StateResolved, models.ReasonNone)
}

// Cancel 任意非终态 -> Abandoned/Cancelled；重复调用返回 InvalidTransition 且无副作用
func (m *Manager) Cancel(sessionID string, byCitizen bool) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.s.State.Terminal() {
		e.s.CancelledByCitizen = byCitizen
	}
	return m.finishLocked(e, models.StateAbandoned, models.ReasonCancelled)
}

// RejectAssignment 医院拒绝已分配的会话：回到 Matching 并排除该医院
func (m *Manager) RejectAssignment(sessionID, facilityID string) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != models.StateAssigned {
		return apperr.WithCodef(apperr.CodeInvalidTransition, "session %s is %s, not assigned", sessionID, e.s.State)
	}
	if facilityID != "" && facilityID != e.s.AssignedFacility() {
		return apperr.WithCodef(apperr.CodeInvalidArgument, "session %s is assigned to %s, not %s", sessionID, e.s.AssignedFacility(), facilityID)
	}
	return m.revertLocked(e, "rejected")
}

// UpdateLocation 更新市民坐标：未分配时唤醒匹配，已分配时通知医院
func (m *Manager) UpdateLocation(sessionID string, at models.Coordinate) error {
	if !at.Valid() {
		return apperr.WithCodef(apperr.CodeInvalidArgument, "invalid coordinate %s", at)
	}
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.applyFixLocked(e, at, m.now())
}

// IngestFix 处理定位源推送的坐标。过期、乱序或超前过多的坐标被忽略，返回 applied=false。
// 容差内的未来时间戳按当前时间记录，LastFixAt 不会超过当前时间。
func (m *Manager) IngestFix(citizenID string, at models.Coordinate, ts time.Time) (bool, error) {
	if !at.Valid() {
		return false, apperr.WithCodef(apperr.CodeInvalidArgument, "invalid coordinate %s", at)
	}
	now := m.now()
	if ts.IsZero() {
		ts = now
	}
	if now.Sub(ts) > m.cfg.FixStaleness {
		m.log.Debug("stale fix ignored", zap.String("citizen", citizenID), zap.Time("ts", ts))
		return false, nil
	}
	if ts.After(now) {
		if ts.Sub(now) > m.cfg.FixStaleness {
			m.log.Debug("future fix ignored", zap.String("citizen", citizenID), zap.Time("ts", ts))
			return false, nil
		}
		ts = now
	}

	m.mu.RLock()
	id, ok := m.byCitizen[citizenID]
	m.mu.RUnlock()
	if !ok {
		return false, apperr.WithCodef(apperr.CodeNotFound, "citizen %s has no active session", citizenID)
	}
	e, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !ts.After(e.s.LastFixAt) {
		return false, nil
	}
	if err := m.applyFixLocked(e, at, ts); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) applyFixLocked(e *entry, at models.Coordinate, ts time.Time) error {
	if e.s.State.Terminal() {
		return apperr.WithCodef(apperr.CodeInvalidTransition, "session %s is %s", e.s.ID, e.s.State)
	}
	e.s.Latitude = at.Latitude
	e.s.Longitude = at.Longitude
	e.s.Track = append(e.s.Track, models.CoordinateFix{Coordinate: at, At: ts})
	if over := len(e.s.Track) - m.cfg.MaxTrack; over > 0 {
		e.s.Track = append(e.s.Track[:0:0], e.s.Track[over:]...)
	}
	if ts.After(e.s.LastFixAt) {
		e.s.LastFixAt = ts
	}
	e.s.UpdatedAt = m.now()

	if e.s.FacilityID == nil {
		// 未分配：用新坐标重新匹配
		if e.s.State == models.StateMatching {
			if e.matching {
				select {
				case e.wake <- struct{}{}:
				default:
				}
			} else {
				m.startMatcherLocked(e)
			}
		}
	}
	m.emitLocked(e, models.EventLocation)
	m.persistLocked(e)
	return nil
}

// RecordDelivery 合并通知投递结果；已送达的记录不再变更，失败记录以告警事件上报
func (m *Manager) RecordDelivery(sessionID string, rec models.DeliveryRecord) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rec.UpdatedAt = m.now()
	idx := -1
	for i := range e.s.Deliveries {
		if e.s.Deliveries[i].Key() == rec.Key() {
			idx = i
			break
		}
	}
	if idx >= 0 {
		if e.s.Deliveries[idx].State == models.DeliveryDelivered {
			return nil
		}
		e.s.Deliveries[idx] = rec
	} else {
		e.s.Deliveries = append(e.s.Deliveries, rec)
	}

	if rec.State == models.DeliveryFailed {
		m.log.Warn("notification delivery failed",
			zap.String("session", sessionID),
			zap.String("recipient", string(rec.RecipientKind)+":"+rec.RecipientID),
			zap.String("event", rec.Event),
			zap.Int("attempts", rec.Attempts),
			zap.String("error", rec.LastError))
		ev := eventOf(e.s, models.EventDeliveryFailed, rec.UpdatedAt)
		r := rec
		ev.Delivery = &r
		m.publish(ev)
	}
	m.persistLocked(e)
	return nil
}

// finishLocked 进入终态：停止计时器与匹配协程，归还床位
func (m *Manager) finishLocked(e *entry, to models.SessionState, reason models.AbandonReason) error {
	if e.s.State.Terminal() {
		return m.transitionLocked(e, to, reason)
	}
	m.stopConfirmLocked(e)
	if fid := e.s.AssignedFacility(); fid != "" {
		m.releaseCapacity(e.s.ID, fid)
	}
	if err := m.transitionLocked(e, to, reason); err != nil {
		return err
	}
	close(e.stop)

	m.mu.Lock()
	if m.byCitizen[e.s.CitizenID] == e.s.ID {
		delete(m.byCitizen, e.s.CitizenID)
	}
	m.mu.Unlock()
	return nil
}

// revertLocked Assigned -> Matching：排除当前医院，归还床位并重新匹配
func (m *Manager) revertLocked(e *entry, cause string) error {
	fid := e.s.AssignedFacility()
	m.stopConfirmLocked(e)
	m.releaseCapacity(e.s.ID, fid)
	m.excludeLocked(e, fid)
	e.s.FacilityID = nil
	e.noCoverageSince = time.Time{}
	m.log.Info("assignment reverted", zap.String("session", e.s.ID), zap.String("facility", fid), zap.String("cause", cause))
	if err := m.transitionLocked(e, models.StateMatching, models.ReasonNone); err != nil {
		return err
	}
	m.startMatcherLocked(e)
	return nil
}

// excludeLocked 追加到排除列表，保持有序且不重复
func (m *Manager) excludeLocked(e *entry, facilityID string) {
	if facilityID == "" || e.s.IsExcluded(facilityID) {
		return
	}
	e.s.Excluded = append(e.s.Excluded, facilityID)
}

func (m *Manager) releaseCapacity(sessionID, facilityID string) {
	if facilityID == "" || m.capacity == nil {
		return
	}
	if _, err := m.capacity.UpdateCapacity(facilityID, 1); err != nil {
		m.log.Error("release capacity failed",
			zap.String("session", sessionID),
			zap.String("facility", facilityID),
			zap.Error(err))
	}
}

func (m *Manager) startConfirmLocked(e *entry) {
	m.stopConfirmLocked(e)
	e.confirmGen++
	gen := e.confirmGen
	e.confirm = time.AfterFunc(m.cfg.ConfirmTimeout, func() { m.onConfirmTimeout(e, gen) })
}

func (m *Manager) stopConfirmLocked(e *entry) {
	if e.confirm != nil {
		e.confirm.Stop()
		e.confirm = nil
	}
	e.confirmGen++
}

func (m *Manager) onConfirmTimeout(e *entry, gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.confirmGen || e.s.State != models.StateAssigned || m.ctx.Err() != nil {
		return
	}
	e.confirm = nil
	m.log.Warn("dispatch confirmation timed out",
		zap.String("session", e.s.ID),
		zap.String("facility", e.s.AssignedFacility()),
		zap.Duration("timeout", m.cfg.ConfirmTimeout))
	_ = m.revertLocked(e, "confirm_timeout")
}

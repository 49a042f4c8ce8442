package session

import (
	"context"
	"errors"
	"time"

	"LifeSync/internal/dispatch"
	"LifeSync/internal/models"
	apperr "LifeSync/pkg/errors"

	"go.uber.org/zap"
)

// startMatcherLocked 为处于 Matching 的会话启动唯一的匹配协程
func (m *Manager) startMatcherLocked(e *entry) {
	if e.matching || e.s.State != models.StateMatching || m.ctx.Err() != nil {
		return
	}
	e.matching = true
	m.wg.Add(1)
	go m.runMatcher(e)
}

type matchInput struct {
	id       string
	at       models.Coordinate
	caps     []string
	excluded []string
}

// snapshot 读取本轮匹配所需的输入；会话已离开 Matching 时返回 false 并结束协程
func (m *Manager) snapshot(e *entry) (matchInput, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != models.StateMatching || m.ctx.Err() != nil {
		e.matching = false
		return matchInput{}, false
	}
	return matchInput{
		id:       e.s.ID,
		at:       e.s.Coordinate(),
		caps:     append([]string(nil), e.s.Capabilities...),
		excluded: append([]string(nil), e.s.Excluded...),
	}, true
}

func (m *Manager) runMatcher(e *entry) {
	defer m.wg.Done()

	retries := 0
	for {
		in, ok := m.snapshot(e)
		if !ok {
			return
		}

		assigned, err := m.matchOnce(e, in)
		if assigned {
			continue
		}
		if err != nil && apperr.GetCode(err) == apperr.CodeInvalidTransition {
			// 预约期间会话已被取消或结束
			continue
		}

		wait, ok := m.noCoverage(e, err)
		if !ok {
			return
		}
		if d := m.cfg.Backoff.Delay(retries); d < wait {
			wait = d
		}
		retries++

		timer := time.NewTimer(wait)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			e.mu.Lock()
			e.matching = false
			e.mu.Unlock()
			return
		case <-e.stop:
			timer.Stop()
		case <-e.wake:
			timer.Stop()
			retries = 0
		case <-timer.C:
		}
	}
}

// matchOnce 排名并交给调度协调器，返回是否已完成分配
func (m *Manager) matchOnce(e *entry, in matchInput) (bool, error) {
	rctx, cancel := context.WithTimeout(m.ctx, m.cfg.RankTimeout)
	ranked, err := m.ranker.Rank(rctx, in.at, in.caps)
	cancel()
	if err != nil {
		m.log.Warn("ranking failed", zap.String("session", in.id), zap.Error(err))
		return false, err
	}

	commit := func(facilityID string) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.s.State != models.StateMatching {
			return apperr.WithCodef(apperr.CodeInvalidTransition, "session %s is %s, assignment discarded", e.s.ID, e.s.State)
		}
		fid := facilityID
		e.s.FacilityID = &fid
		e.noCoverageSince = time.Time{}
		if err := m.transitionLocked(e, models.StateAssigned, models.ReasonNone); err != nil {
			e.s.FacilityID = nil
			return err
		}
		if m.metrics != nil {
			m.metrics.ObserveTimeToAssignment(m.now().Sub(e.s.ActivatedAt))
		}
		m.startConfirmLocked(e)
		return nil
	}
	onReject := func(facilityID string, outcome dispatch.Outcome) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.s.State.Terminal() {
			return
		}
		m.excludeLocked(e, facilityID)
		m.persistLocked(e)
	}

	fid, err := m.assigner.AttemptAssignment(m.ctx, in.id, ranked, in.excluded, commit, onReject)
	if err != nil {
		return false, err
	}
	return fid != "", nil
}

// noCoverage 记录失去覆盖的起点，超过 MatchTimeout 后放弃。返回下一轮前的最长等待。
func (m *Manager) noCoverage(e *entry, cause error) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != models.StateMatching {
		e.matching = false
		return 0, false
	}
	now := m.now()
	if e.noCoverageSince.IsZero() {
		e.noCoverageSince = now
	}
	elapsed := now.Sub(e.noCoverageSince)
	if elapsed >= m.cfg.MatchTimeout {
		e.matching = false
		m.log.Warn("no coverage, abandoning session",
			zap.String("session", e.s.ID),
			zap.Strings("excluded", e.s.Excluded),
			zap.Duration("elapsed", elapsed))
		_ = m.finishLocked(e, models.StateAbandoned, models.ReasonNoCoverage)
		return 0, false
	}
	if cause != nil && !errors.Is(cause, dispatch.ErrNoCandidate) {
		m.log.Debug("matching round failed", zap.String("session", e.s.ID), zap.Error(cause))
	}
	return m.cfg.MatchTimeout - elapsed, true
}

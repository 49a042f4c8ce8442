package session

import (
	"context"

	"LifeSync/internal/models"
	apperr "LifeSync/pkg/errors"

	"go.uber.org/zap"
)

const archiveBatch = 500

// ArchiveExpired 归档并删除终态超过保留期的会话，这是会话唯一的删除路径
func (m *Manager) ArchiveExpired(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.Retention)

	expired := map[string]*models.SosSession{}
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()
	for _, e := range entries {
		e.mu.Lock()
		if e.s.TerminalAt != nil && e.s.TerminalAt.Before(cutoff) {
			expired[e.s.ID] = e.s.Clone()
		}
		e.mu.Unlock()
	}
	if m.store != nil {
		stored, err := m.store.ListTerminalBefore(ctx, cutoff, archiveBatch)
		if err != nil {
			return 0, apperr.Wrap(err, "list expired sessions")
		}
		for i := range stored {
			if _, ok := expired[stored[i].ID]; !ok {
				expired[stored[i].ID] = &stored[i]
			}
		}
	}

	n := 0
	for id, s := range expired {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if m.archiver != nil {
			if err := m.archiver.Archive(ctx, s); err != nil {
				m.log.Warn("archive session failed, keeping it", zap.String("session", id), zap.Error(err))
				continue
			}
		}
		if m.store != nil {
			if err := m.store.Delete(ctx, id); err != nil {
				m.log.Warn("delete archived session failed", zap.String("session", id), zap.Error(err))
				continue
			}
		}
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		n++
	}
	if n > 0 {
		m.log.Info("sessions archived", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Restore 重启后从持久化层恢复非终态会话并恢复其匹配协程/确认计时器
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	list, err := m.store.ListActive(ctx)
	if err != nil {
		return 0, apperr.Wrap(err, "restore sessions")
	}

	n := 0
	for i := range list {
		s := list[i].Clone()
		if s.Excluded == nil {
			s.Excluded = []string{}
		}
		e := &entry{s: s, wake: make(chan struct{}, 1), stop: make(chan struct{})}

		m.mu.Lock()
		if _, dup := m.sessions[s.ID]; dup {
			m.mu.Unlock()
			continue
		}
		if other, ok := m.byCitizen[s.CitizenID]; ok {
			m.mu.Unlock()
			m.log.Warn("skip restoring second active session for citizen",
				zap.String("session", s.ID), zap.String("active", other))
			continue
		}
		m.sessions[s.ID] = e
		m.byCitizen[s.CitizenID] = s.ID
		m.mu.Unlock()

		e.mu.Lock()
		if m.metrics != nil {
			m.metrics.RecordRestored(string(s.State))
		}
		switch s.State {
		case models.StateActivated:
			_ = m.transitionLocked(e, models.StateMatching, models.ReasonNone)
			m.startMatcherLocked(e)
		case models.StateMatching:
			m.startMatcherLocked(e)
		case models.StateAssigned:
			m.startConfirmLocked(e)
		}
		e.mu.Unlock()
		n++
	}
	m.log.Info("sessions restored", zap.Int("count", n))
	return n, nil
}

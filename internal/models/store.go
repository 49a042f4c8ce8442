package models

import (
	"context"
	"errors"
	"time"

	apperr "LifeSync/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStore 会话持久化（按 ID 存储）
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Save(ctx context.Context, sess *SosSession) error {
	return s.db.WithContext(ctx).Save(sess).Error
}

func (s *SessionStore) Get(ctx context.Context, id string) (*SosSession, error) {
	var sess SosSession
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.WithCodef(apperr.CodeNotFound, "session %s not found", id)
		}
		return nil, err
	}
	return &sess, nil
}

// ListActive 返回所有非终态会话，用于重启恢复
func (s *SessionStore) ListActive(ctx context.Context) ([]SosSession, error) {
	var list []SosSession
	err := s.db.WithContext(ctx).
		Where("state NOT IN ?", []SessionState{StateResolved, StateAbandoned}).
		Order("activated_at").
		Find(&list).Error
	return list, err
}

// ListTerminalBefore 返回在 cutoff 之前进入终态的会话
func (s *SessionStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]SosSession, error) {
	var list []SosSession
	err := s.db.WithContext(ctx).
		Where("terminal_at IS NOT NULL AND terminal_at < ?", cutoff).
		Order("terminal_at").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&SosSession{}, "id = ?", id).Error
}

// FacilityStore 医院信息持久化
type FacilityStore struct {
	db *gorm.DB
}

func NewFacilityStore(db *gorm.DB) *FacilityStore {
	return &FacilityStore{db: db}
}

// Save upserts the full facility row.
func (s *FacilityStore) Save(ctx context.Context, f *Facility) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(f).Error
}

func (s *FacilityStore) List(ctx context.Context) ([]Facility, error) {
	var list []Facility
	err := s.db.WithContext(ctx).Order("id").Find(&list).Error
	return list, err
}

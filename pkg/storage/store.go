package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"LifeSync/internal/models"
	"LifeSync/pkg/logger"

	"go.uber.org/zap"
)

// Store 对象存储的最小写入接口
type Store interface {
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Config 归档存储配置
type Config struct {
	Backend   string // none | minio | cos
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// NewStore 根据 Backend 选择实现，none 返回 nil
func NewStore(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "minio":
		return NewMinioStore(cfg)
	case "cos":
		return NewCOSStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.Backend)
	}
}

// SessionArchiver 把终态会话写成 JSON 快照
type SessionArchiver struct {
	store  Store
	prefix string
}

func NewSessionArchiver(store Store, prefix string) *SessionArchiver {
	if prefix == "" {
		prefix = "sessions"
	}
	return &SessionArchiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// Key sessions/2026/10/15/<id>.json，日期取终态时间
func (a *SessionArchiver) Key(s *models.SosSession) string {
	at := s.ActivatedAt
	if s.TerminalAt != nil {
		at = *s.TerminalAt
	}
	return path.Join(a.prefix, at.UTC().Format("2006/01/02"), s.ID+".json")
}

func (a *SessionArchiver) Archive(ctx context.Context, s *models.SosSession) error {
	if s == nil {
		return nil
	}
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	key := a.Key(s)
	if err := a.store.Write(ctx, key, bytes.NewReader(buf), int64(len(buf)), "application/json"); err != nil {
		return err
	}
	logger.Debug("session archived", zap.String("session", s.ID), zap.String("key", key))
	return nil
}

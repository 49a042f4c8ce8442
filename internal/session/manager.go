package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"LifeSync/internal/dispatch"
	"LifeSync/internal/models"
	apperr "LifeSync/pkg/errors"
	"LifeSync/pkg/logger"
	"LifeSync/pkg/metrics"
	"LifeSync/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ranker 由 facility.Ranker 实现
type Ranker interface {
	Rank(ctx context.Context, at models.Coordinate, required []string) ([]models.RankedCandidate, error)
}

// Assigner 由 dispatch.Coordinator 实现
type Assigner interface {
	AttemptAssignment(ctx context.Context, sessionID string, candidates []models.RankedCandidate,
		excluded []string, commit dispatch.CommitFunc, onReject dispatch.RejectFunc) (string, error)
}

// Capacity 由 facility.Registry 实现
type Capacity interface {
	UpdateCapacity(id string, delta int) (int, error)
}

// Store 会话持久化
type Store interface {
	Save(ctx context.Context, s *models.SosSession) error
	Delete(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]models.SosSession, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.SosSession, error)
}

// Archiver 在删除前保存终态会话快照
type Archiver interface {
	Archive(ctx context.Context, s *models.SosSession) error
}

// Observer 接收会话事件，在会话锁内同步调用，不得阻塞
type Observer func(models.SessionEvent)

type Config struct {
	MatchTimeout   time.Duration // 失去覆盖后多久放弃
	Backoff        retry.Policy  // 无覆盖时的重试间隔
	ConfirmTimeout time.Duration // Assigned 后等待医院确认出车的时间
	RankTimeout    time.Duration
	FixStaleness   time.Duration
	Retention      time.Duration
	MaxTrack       int
}

func DefaultConfig() Config {
	return Config{
		MatchTimeout:   5 * time.Minute,
		Backoff:        retry.MatchingPolicy(),
		ConfirmTimeout: 60 * time.Second,
		RankTimeout:    5 * time.Second,
		FixStaleness:   2 * time.Minute,
		Retention:      30 * 24 * time.Hour,
		MaxTrack:       256,
	}
}

type Option func(*Manager)

func WithStore(s Store) Option { return func(m *Manager) { m.store = s } }

func WithArchiver(a Archiver) Option { return func(m *Manager) { m.archiver = a } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithIDGenerator(gen func() string) Option { return func(m *Manager) { m.newID = gen } }

// entry 单个会话及其并发控制
type entry struct {
	mu   sync.Mutex
	s    *models.SosSession
	wake chan struct{}
	stop chan struct{}

	matching        bool
	noCoverageSince time.Time
	confirm         *time.Timer
	confirmGen      int
}

// Manager SOS 会话状态机
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*entry
	byCitizen map[string]string

	ranker   Ranker
	assigner Assigner
	capacity Capacity
	store    Store
	archiver Archiver
	metrics  *metrics.Metrics

	obsMu     sync.RWMutex
	observers []Observer

	cfg   Config
	now   func() time.Time
	newID func() string
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config, ranker Ranker, assigner Assigner, capacity Capacity, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = def.MatchTimeout
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.RankTimeout <= 0 {
		cfg.RankTimeout = def.RankTimeout
	}
	if cfg.FixStaleness <= 0 {
		cfg.FixStaleness = def.FixStaleness
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxTrack <= 0 {
		cfg.MaxTrack = def.MaxTrack
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:  make(map[string]*entry),
		byCitizen: make(map[string]string),
		ranker:    ranker,
		assigner:  assigner,
		capacity:  capacity,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       logger.Named("session"),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe 注册事件观察者
func (m *Manager) Subscribe(o Observer) {
	m.obsMu.Lock()
	m.observers = append(m.observers, o)
	m.obsMu.Unlock()
}

type ActivateRequest struct {
	CitizenID    string            `json:"citizenId"`
	Coordinate   models.Coordinate `json:"coordinate"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Contacts     []string          `json:"contacts,omitempty"`
	Locale       string            `json:"locale,omitempty"`
}

// Activate 创建会话并立即进入 Matching
func (m *Manager) Activate(req ActivateRequest) (*models.SosSession, error) {
	req.CitizenID = strings.TrimSpace(req.CitizenID)
	if req.CitizenID == "" {
		return nil, apperr.WithCode(apperr.CodeInvalidArgument, "citizenId is required")
	}
	if !req.Coordinate.Valid() {
		return nil, apperr.WithCodef(apperr.CodeInvalidArgument, "invalid coordinate %s", req.Coordinate)
	}
	if err := m.ctx.Err(); err != nil {
		return nil, apperr.WithCode(apperr.CodeUnavailable, "session manager closed")
	}

	now := m.now()
	s := &models.SosSession{
		ID:           m.newID(),
		CitizenID:    req.CitizenID,
		Latitude:     req.Coordinate.Latitude,
		Longitude:    req.Coordinate.Longitude,
		Track:        []models.CoordinateFix{{Coordinate: req.Coordinate, At: now}},
		ActivatedAt:  now,
		State:        models.StateActivated,
		Excluded:     []string{},
		Capabilities: append([]string(nil), req.Capabilities...),
		Contacts:     append([]string(nil), req.Contacts...),
		Locale:       req.Locale,
		LastFixAt:    now,
		UpdatedAt:    now,
	}
	e := &entry{s: s, wake: make(chan struct{}, 1), stop: make(chan struct{})}

	m.mu.Lock()
	if existing, ok := m.byCitizen[req.CitizenID]; ok {
		m.mu.Unlock()
		return nil, apperr.WithCodef(apperr.CodeSessionAlreadyActive, "citizen %s already has active session %s", req.CitizenID, existing)
	}
	m.sessions[s.ID] = e
	m.byCitizen[req.CitizenID] = s.ID
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordActivation()
	}
	m.log.Info("sos activated", zap.String("session", s.ID), zap.String("citizen", s.CitizenID), zap.Stringer("at", req.Coordinate))
	m.emitLocked(e, models.EventState)
	m.persistLocked(e)
	if err := m.transitionLocked(e, models.StateMatching, models.ReasonNone); err != nil {
		return nil, err
	}
	m.startMatcherLocked(e)
	return s.Clone(), nil
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.WithCodef(apperr.CodeNotFound, "session %s not found", id)
	}
	return e, nil
}

func (m *Manager) Get(id string) (*models.SosSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

// ActiveFor 返回市民当前的非终态会话
func (m *Manager) ActiveFor(citizenID string) (*models.SosSession, error) {
	m.mu.RLock()
	id, ok := m.byCitizen[citizenID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.WithCodef(apperr.CodeNotFound, "citizen %s has no active session", citizenID)
	}
	return m.Get(id)
}

// Close 停止所有匹配协程与确认计时器
func (m *Manager) Close() {
	m.cancel()
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()
	for _, e := range entries {
		e.mu.Lock()
		m.stopConfirmLocked(e)
		e.mu.Unlock()
	}
	m.wg.Wait()
}

var allowed = map[models.SessionState][]models.SessionState{
	models.StateActivated: {models.StateMatching},
	models.StateMatching:  {models.StateAssigned},
	models.StateAssigned:  {models.StateEnRoute, models.StateMatching},
}

func canTransition(from, to models.SessionState) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionLocked 校验并执行状态迁移，调用方持有 e.mu
func (m *Manager) transitionLocked(e *entry, to models.SessionState, reason models.AbandonReason) error {
	from := e.s.State
	if !canTransition(from, to) {
		m.log.Warn("invalid transition rejected",
			zap.String("session", e.s.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return apperr.WithCodef(apperr.CodeInvalidTransition, "session %s: %s -> %s not allowed", e.s.ID, from, to)
	}
	now := m.now()
	e.s.State = to
	e.s.Reason = reason
	e.s.UpdatedAt = now
	if to.Terminal() {
		e.s.TerminalAt = &now
	}
	if m.metrics != nil {
		m.metrics.RecordTransition(string(from), string(to))
		if to == models.StateAbandoned {
			m.metrics.RecordAbandoned(string(reason))
		}
	}
	m.log.Info("session transition",
		zap.String("session", e.s.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", string(reason)),
		zap.String("facility", e.s.AssignedFacility()))
	m.emitLocked(e, models.EventState)
	m.persistLocked(e)
	return nil
}

func (m *Manager) emitLocked(e *entry, kind models.EventKind) {
	m.publish(eventOf(e.s, kind, m.now()))
}

func (m *Manager) publish(ev models.SessionEvent) {
	m.obsMu.RLock()
	obs := m.observers
	m.obsMu.RUnlock()
	for _, o := range obs {
		o(ev)
	}
}

func eventOf(s *models.SosSession, kind models.EventKind, at time.Time) models.SessionEvent {
	return models.SessionEvent{
		Kind:       kind,
		SessionID:  s.ID,
		CitizenID:  s.CitizenID,
		State:      s.State,
		Reason:     s.Reason,
		FacilityID: s.AssignedFacility(),
		Coordinate: s.Coordinate(),
		Driver:     s.DriverContact,
		Timestamp:  at,
		Contacts:   append([]string(nil), s.Contacts...),
		Locale:     s.Locale,
	}
}

// persistLocked 写穿持久化，失败只告警
func (m *Manager) persistLocked(e *entry) {
	if m.store == nil {
		return
	}
	snapshot := e.s.Clone()
	if err := m.store.Save(context.Background(), snapshot); err != nil {
		m.log.Warn("persist session failed", zap.String("session", e.s.ID), zap.Error(err))
	}
}

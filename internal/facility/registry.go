package facility

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"LifeSync/internal/models"
	apperr "LifeSync/pkg/errors"
	"LifeSync/pkg/logger"
	"LifeSync/pkg/metrics"
	"LifeSync/pkg/search"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store 医院持久化接口
type Store interface {
	Save(ctx context.Context, f *models.Facility) error
	List(ctx context.Context) ([]models.Facility, error)
}

type Option func(*Registry)

func WithStore(s Store) Option { return func(r *Registry) { r.store = s } }

// WithGeoIndex 使用 bleve 地理索引回答 List 的半径查询
func WithGeoIndex(e search.Engine) Option { return func(r *Registry) { r.index = e } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// Registry 医院注册表：位置、床位与可达性
type Registry struct {
	mu         sync.RWMutex
	facilities map[string]*models.Facility

	store   Store
	index   search.Engine
	metrics *metrics.Metrics
	now     func() time.Time
	log     *zap.Logger
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		facilities: make(map[string]*models.Facility),
		now:        time.Now,
		log:        logger.Named("facility"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 添加或更新医院静态属性。已存在且未指定 force 时返回 DuplicateFacility；
// force 更新保留当前床位与可达性。
func (r *Registry) Register(f models.Facility, force bool) error {
	f.ID = strings.TrimSpace(f.ID)
	if f.ID == "" {
		return apperr.WithCode(apperr.CodeInvalidArgument, "facility id is required")
	}
	if f.AvailableBeds < 0 {
		return apperr.WithCodef(apperr.CodeInvalidArgument, "facility %s: available beds must be >= 0", f.ID)
	}
	if !f.Coordinate().Valid() {
		return apperr.WithCodef(apperr.CodeInvalidArgument, "facility %s: invalid coordinate %s", f.ID, f.Coordinate())
	}

	r.mu.Lock()
	now := r.now()
	existing, ok := r.facilities[f.ID]
	if ok && !force {
		r.mu.Unlock()
		return apperr.WithCodef(apperr.CodeDuplicateFacility, "facility %s already registered", f.ID)
	}
	var stored *models.Facility
	if ok {
		existing.Name = f.Name
		existing.Latitude = f.Latitude
		existing.Longitude = f.Longitude
		existing.Capabilities = append([]string(nil), f.Capabilities...)
		existing.ProbeTarget = f.ProbeTarget
		existing.UpdatedAt = now
		stored = existing
	} else {
		nf := f.Clone()
		nf.Reachable = true
		nf.LastHeartbeat = now
		nf.CreatedAt = now
		nf.UpdatedAt = now
		r.facilities[nf.ID] = &nf
		stored = &nf
	}
	snapshot := stored.Clone()
	r.mu.Unlock()

	r.observe(snapshot)
	r.indexFacility(snapshot)
	r.persist(snapshot)
	return nil
}

// UpdateCapacity 原子调整床位数，返回调整后的床位数
func (r *Registry) UpdateCapacity(id string, delta int) (int, error) {
	r.mu.Lock()
	f, ok := r.facilities[id]
	if !ok {
		r.mu.Unlock()
		return 0, apperr.WithCodef(apperr.CodeNotFound, "facility %s not found", id)
	}
	next := f.AvailableBeds + delta
	if next < 0 {
		beds := f.AvailableBeds
		r.mu.Unlock()
		return beds, apperr.WithCodef(apperr.CodeCapacityUnderflow, "facility %s: %d%+d would underflow", id, beds, delta)
	}
	f.AvailableBeds = next
	f.UpdatedAt = r.now()
	snapshot := f.Clone()
	r.mu.Unlock()

	r.observe(snapshot)
	r.persist(snapshot)
	return next, nil
}

func (r *Registry) MarkReachable(id string) error {
	return r.setReachable(id, true, nil)
}

func (r *Registry) MarkUnreachable(id string) error {
	return r.setReachable(id, false, nil)
}

// Heartbeat 记录心跳并恢复可达
func (r *Registry) Heartbeat(id string, at time.Time) error {
	if at.IsZero() {
		at = r.now()
	}
	return r.setReachable(id, true, &at)
}

func (r *Registry) setReachable(id string, reachable bool, heartbeat *time.Time) error {
	r.mu.Lock()
	f, ok := r.facilities[id]
	if !ok {
		r.mu.Unlock()
		return apperr.WithCodef(apperr.CodeNotFound, "facility %s not found", id)
	}
	changed := f.Reachable != reachable
	f.Reachable = reachable
	if heartbeat != nil && heartbeat.After(f.LastHeartbeat) {
		f.LastHeartbeat = *heartbeat
	}
	f.UpdatedAt = r.now()
	snapshot := f.Clone()
	r.mu.Unlock()

	if changed {
		r.log.Info("facility reachability changed", zap.String("facility", id), zap.Bool("reachable", reachable))
	}
	r.observe(snapshot)
	r.persist(snapshot)
	return nil
}

// SweepStale 将心跳超过 maxAge 的医院标记为不可达，返回被标记的 ID
func (r *Registry) SweepStale(maxAge time.Duration) []string {
	if maxAge <= 0 {
		return nil
	}
	cutoff := r.now().Add(-maxAge)
	var stale []string
	r.mu.RLock()
	for id, f := range r.facilities {
		if f.Reachable && f.ProbeTarget == "" && f.LastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(stale)
	for _, id := range stale {
		_ = r.MarkUnreachable(id)
	}
	return stale
}

func (r *Registry) Get(id string) (models.Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.facilities[id]
	if !ok {
		return models.Facility{}, apperr.WithCodef(apperr.CodeNotFound, "facility %s not found", id)
	}
	return f.Clone(), nil
}

// Snapshot 返回全部医院的副本，按 ID 排序
func (r *Registry) Snapshot() []models.Facility {
	r.mu.RLock()
	out := make([]models.Facility, 0, len(r.facilities))
	for _, f := range r.facilities {
		out = append(out, f.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List 返回 coordinate 周围 radiusKm 范围内的医院；radiusKm <= 0 表示不限范围
func (r *Registry) List(ctx context.Context, coordinate models.Coordinate, radiusKm float64) ([]models.Facility, error) {
	if radiusKm <= 0 {
		return r.Snapshot(), nil
	}
	if r.index != nil {
		hits, err := r.index.Within(ctx, coordinate.Latitude, coordinate.Longitude, radiusKm)
		if err == nil {
			out := make([]models.Facility, 0, len(hits))
			r.mu.RLock()
			for _, h := range hits {
				if f, ok := r.facilities[h.ID]; ok && DistanceKm(coordinate, f.Coordinate()) <= radiusKm {
					out = append(out, f.Clone())
				}
			}
			r.mu.RUnlock()
			sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
			return out, nil
		}
		r.log.Warn("geo index query failed, falling back to scan", zap.Error(err))
	}

	all := r.Snapshot()
	out := all[:0]
	for _, f := range all {
		if DistanceKm(coordinate, f.Coordinate()) <= radiusKm {
			out = append(out, f)
		}
	}
	return out, nil
}

// Load 从持久化层恢复
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.List(ctx)
	if err != nil {
		return apperr.Wrap(err, "load facilities")
	}
	r.mu.Lock()
	for i := range list {
		f := list[i].Clone()
		r.facilities[f.ID] = &f
	}
	r.mu.Unlock()
	for i := range list {
		r.observe(list[i])
		r.indexFacility(list[i])
	}
	r.log.Info("facilities loaded", zap.Int("count", len(list)))
	return nil
}

type seedFile struct {
	Facilities []models.Facility `yaml:"facilities"`
}

// Seed 从 YAML 文件导入医院，已存在的 ID 会被跳过
func (r *Registry) Seed(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, apperr.Wrapf(err, "read facility seed %s", path)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return 0, apperr.WithCodef(apperr.CodeInvalidArgument, "parse facility seed %s: %v", path, err)
	}
	n := 0
	for _, f := range sf.Facilities {
		err := r.Register(f, false)
		if apperr.GetCode(err) == apperr.CodeDuplicateFacility {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	r.log.Info("facility seed applied", zap.String("path", path), zap.Int("registered", n))
	return n, nil
}

func (r *Registry) observe(f models.Facility) {
	if r.metrics == nil {
		return
	}
	r.metrics.SetFacilityBeds(f.ID, f.AvailableBeds)
	r.metrics.SetFacilityReachable(f.ID, f.Reachable)
}

func (r *Registry) indexFacility(f models.Facility) {
	if r.index == nil {
		return
	}
	err := r.index.Index(context.Background(), search.Doc{
		ID:           f.ID,
		Type:         search.TypeFacility,
		Latitude:     f.Latitude,
		Longitude:    f.Longitude,
		Capabilities: f.Capabilities,
	})
	if err != nil {
		r.log.Warn("index facility failed", zap.String("facility", f.ID), zap.Error(err))
	}
}

// persist 写穿持久化，失败只记录告警，内存状态为准
func (r *Registry) persist(f models.Facility) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.Background(), &f); err != nil {
		r.log.Warn("persist facility failed", zap.String("facility", f.ID), zap.Error(err))
	}
}

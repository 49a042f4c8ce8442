package facility

import (
	"context"
	"sort"

	"LifeSync/internal/models"
)

// Ranker 按预计到达时间排序候选医院
type Ranker struct {
	registry    *Registry
	speedKmh    float64
	maxRadiusKm float64
}

func NewRanker(registry *Registry, speedKmh, maxRadiusKm float64) *Ranker {
	if speedKmh <= 0 {
		speedKmh = 40
	}
	return &Ranker{registry: registry, speedKmh: speedKmh, maxRadiusKm: maxRadiusKm}
}

// Rank 过滤出可达、有空床且能力满足的医院，按 ETA 升序、ID 升序排列。
// 结果为空表示当前无覆盖，不是错误。
func (rk *Ranker) Rank(ctx context.Context, at models.Coordinate, required []string) ([]models.RankedCandidate, error) {
	facilities, err := rk.registry.List(ctx, at, rk.maxRadiusKm)
	if err != nil {
		return nil, err
	}

	out := make([]models.RankedCandidate, 0, len(facilities))
	for i := range facilities {
		f := &facilities[i]
		if !f.Reachable || f.AvailableBeds <= 0 || !f.HasCapabilities(required) {
			continue
		}
		d := DistanceKm(at, f.Coordinate())
		out = append(out, models.RankedCandidate{
			FacilityID:  f.ID,
			Name:        f.Name,
			ETAMinutes:  ETAMinutes(d, rk.speedKmh),
			DistanceKm:  d,
			BedsAtQuery: f.AvailableBeds,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ETAMinutes != out[j].ETAMinutes {
			return out[i].ETAMinutes < out[j].ETAMinutes
		}
		return out[i].FacilityID < out[j].FacilityID
	})
	return out, nil
}

package dispatch

import (
	"context"
	"time"

	"LifeSync/internal/models"
	apperr "LifeSync/pkg/errors"
	"LifeSync/pkg/logger"
	"LifeSync/pkg/metrics"

	"go.uber.org/zap"
)

// Outcome 医院对预约请求的答复
type Outcome int

const (
	Accept Outcome = iota
	Reject
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "timeout"
	}
}

// ErrNoCandidate 候选列表耗尽
var ErrNoCandidate = &apperr.Error{Code: apperr.CodeNoCoverage, Message: "no candidate accepted the reservation"}

// Reserver 向医院发起预约（外部协作方边界）
type Reserver interface {
	Reserve(ctx context.Context, facilityID, sessionID string) (Outcome, error)
}

// Capacity 床位原子调整，由 Registry 实现
type Capacity interface {
	UpdateCapacity(id string, delta int) (int, error)
}

// CommitFunc 在床位扣减成功后把会话迁移到 Assigned；返回错误时床位会被归还
type CommitFunc func(facilityID string) error

// RejectFunc 记录拒绝/超时的医院
type RejectFunc func(facilityID string, outcome Outcome)

type Coordinator struct {
	capacity Capacity
	reserver Reserver
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewCoordinator(capacity Capacity, reserver Reserver, timeout time.Duration, m *metrics.Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Coordinator{
		capacity: capacity,
		reserver: reserver,
		timeout:  timeout,
		metrics:  m,
		log:      logger.Named("dispatch"),
	}
}

// AttemptAssignment 按排名依次向未被排除的医院预约，第一个接受且床位扣减、提交均成功的医院即为结果。
// 拒绝和超时立即前进到下一个候选，全部失败返回 ErrNoCandidate。
func (c *Coordinator) AttemptAssignment(ctx context.Context, sessionID string, candidates []models.RankedCandidate,
	excluded []string, commit CommitFunc, onReject RejectFunc) (string, error) {
	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}

	for _, cand := range candidates {
		if _, ok := skip[cand.FacilityID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		outcome := c.reserve(ctx, cand.FacilityID, sessionID)
		if c.metrics != nil {
			c.metrics.RecordReservation(outcome.String())
		}

		if outcome != Accept {
			c.log.Info("reservation declined",
				zap.String("session", sessionID),
				zap.String("facility", cand.FacilityID),
				zap.Stringer("outcome", outcome))
			skip[cand.FacilityID] = struct{}{}
			if onReject != nil {
				onReject(cand.FacilityID, outcome)
			}
			continue
		}

		if _, err := c.capacity.UpdateCapacity(cand.FacilityID, -1); err != nil {
			// 接受时床位已被其他会话占满
			c.log.Warn("accepted facility has no capacity at commit",
				zap.String("session", sessionID),
				zap.String("facility", cand.FacilityID),
				zap.Error(err))
			continue
		}
		if err := commit(cand.FacilityID); err != nil {
			if _, rerr := c.capacity.UpdateCapacity(cand.FacilityID, 1); rerr != nil {
				c.log.Error("release capacity after failed commit",
					zap.String("facility", cand.FacilityID), zap.Error(rerr))
			}
			c.log.Info("assignment rolled back",
				zap.String("session", sessionID),
				zap.String("facility", cand.FacilityID),
				zap.Error(err))
			return "", err
		}
		return cand.FacilityID, nil
	}
	return "", ErrNoCandidate
}

func (c *Coordinator) reserve(ctx context.Context, facilityID, sessionID string) Outcome {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome, err := c.reserver.Reserve(rctx, facilityID, sessionID)
	if err != nil {
		c.log.Warn("reservation request failed",
			zap.String("session", sessionID),
			zap.String("facility", facilityID),
			zap.Error(err))
		return Timeout
	}
	if outcome == Accept && rctx.Err() != nil && ctx.Err() == nil {
		// 超时后才到达的接受按超时处理
		return Timeout
	}
	return outcome
}

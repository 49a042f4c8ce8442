package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	apperr "LifeSync/pkg/errors"
)

// ReservationRequest 推送到医院控制台的预约请求
type ReservationRequest struct {
	FacilityID string    `json:"facilityId"`
	SessionID  string    `json:"sessionId"`
	IssuedAt   time.Time `json:"issuedAt"`
	Deadline   time.Time `json:"deadline,omitempty"`
}

// ConsoleReserver 把请求推送给医院控制台，等待控制台通过 Answer 回复
type ConsoleReserver struct {
	mu      sync.Mutex
	pending map[string]*pendingReservation
	publish func(ReservationRequest)
}

type pendingReservation struct {
	req    ReservationRequest
	answer chan bool
}

func NewConsoleReserver(publish func(ReservationRequest)) *ConsoleReserver {
	return &ConsoleReserver{
		pending: make(map[string]*pendingReservation),
		publish: publish,
	}
}

func reservationKey(facilityID, sessionID string) string {
	return facilityID + "/" + sessionID
}

func (r *ConsoleReserver) Reserve(ctx context.Context, facilityID, sessionID string) (Outcome, error) {
	req := ReservationRequest{FacilityID: facilityID, SessionID: sessionID, IssuedAt: time.Now()}
	if dl, ok := ctx.Deadline(); ok {
		req.Deadline = dl
	}
	p := &pendingReservation{req: req, answer: make(chan bool, 1)}
	key := reservationKey(facilityID, sessionID)

	r.mu.Lock()
	r.pending[key] = p
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.pending[key] == p {
			delete(r.pending, key)
		}
		r.mu.Unlock()
	}()

	if r.publish != nil {
		r.publish(req)
	}

	select {
	case accept := <-p.answer:
		if accept {
			return Accept, nil
		}
		return Reject, nil
	case <-ctx.Done():
		return Timeout, nil
	}
}

// Answer 控制台对预约请求的回复
func (r *ConsoleReserver) Answer(facilityID, sessionID string, accept bool) error {
	r.mu.Lock()
	p, ok := r.pending[reservationKey(facilityID, sessionID)]
	r.mu.Unlock()
	if !ok {
		return apperr.WithCodef(apperr.CodeNotFound, "no pending reservation for session %s at facility %s", sessionID, facilityID)
	}
	select {
	case p.answer <- accept:
		return nil
	default:
		return apperr.WithCodef(apperr.CodeInvalidTransition, "reservation for session %s already answered", sessionID)
	}
}

// Pending 某医院当前待答复的请求
func (r *ConsoleReserver) Pending(facilityID string) []ReservationRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ReservationRequest
	for _, p := range r.pending {
		if p.req.FacilityID == facilityID {
			out = append(out, p.req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

// AutoReserver 总是接受，仅用于开发环境
type AutoReserver struct{}

func (AutoReserver) Reserve(ctx context.Context, facilityID, sessionID string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Timeout, nil
	}
	return Accept, nil
}

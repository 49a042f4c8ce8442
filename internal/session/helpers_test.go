package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"LifeSync/internal/dispatch"
	"LifeSync/internal/facility"
	"LifeSync/internal/models"
	"LifeSync/pkg/retry"

	"github.com/stretchr/testify/require"
)

var citizenAt = models.Coordinate{Latitude: 17.3850, Longitude: 78.4867}

const (
	cityGeneral = "city-general"
	stMary      = "st-mary-icu"
)

// scriptedReserver 按医院返回预设答复，未配置的医院默认接受
type scriptedReserver struct {
	mu       sync.Mutex
	outcomes map[string]dispatch.Outcome
	calls    []string
}

func (s *scriptedReserver) set(facilityID string, o dispatch.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = map[string]dispatch.Outcome{}
	}
	s.outcomes[facilityID] = o
}

func (s *scriptedReserver) Reserve(ctx context.Context, facilityID, sessionID string) (dispatch.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, facilityID)
	if o, ok := s.outcomes[facilityID]; ok {
		return o, nil
	}
	return dispatch.Accept, nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (r *recorder) observe(ev models.SessionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) states(sessionID string) []models.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SessionState
	for _, ev := range r.events {
		if ev.SessionID == sessionID && ev.Kind == models.EventState {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) ofKind(kind models.EventKind) []models.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SessionEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	registry *facility.Registry
	reserver dispatch.Reserver
	manager  *Manager
	events   *recorder
}

func testConfig() Config {
	return Config{
		MatchTimeout: 200 * time.Millisecond,
		Backoff: retry.Policy{
			InitialDelay:      5 * time.Millisecond,
			MaxDelay:          20 * time.Millisecond,
			BackoffMultiplier: 2,
		},
		ConfirmTimeout: time.Minute,
		FixStaleness:   time.Minute,
		MaxTrack:       8,
	}
}

func hyderabad(t *testing.T) *facility.Registry {
	reg := facility.NewRegistry()
	require.NoError(t, reg.Register(models.Facility{ID: cityGeneral, Name: "City General", Latitude: 17.3957918, Longitude: 78.4867, Capabilities: []string{"ICU", "trauma"}, AvailableBeds: 4}, false))
	require.NoError(t, reg.Register(models.Facility{ID: stMary, Name: "St. Mary ICU", Latitude: 17.407483, Longitude: 78.4867, Capabilities: []string{"ICU"}, AvailableBeds: 2}, false))
	return reg
}

func newFixture(t *testing.T, cfg Config, reserver dispatch.Reserver, opts ...Option) *fixture {
	return newFixtureWithRegistry(t, hyderabad(t), cfg, reserver, opts...)
}

func newFixtureWithRegistry(t *testing.T, reg *facility.Registry, cfg Config, reserver dispatch.Reserver, opts ...Option) *fixture {
	coord := dispatch.NewCoordinator(reg, reserver, time.Second, nil)
	m := NewManager(cfg, facility.NewRanker(reg, 40, 0), coord, reg, opts...)
	rec := &recorder{}
	m.Subscribe(rec.observe)
	t.Cleanup(m.Close)
	return &fixture{registry: reg, reserver: reserver, manager: m, events: rec}
}

func (f *fixture) beds(t *testing.T, id string) int {
	fc, err := f.registry.Get(id)
	require.NoError(t, err)
	return fc.AvailableBeds
}

func (f *fixture) waitState(t *testing.T, sessionID string, want models.SessionState) *models.SosSession {
	var got *models.SosSession
	require.Eventually(t, func() bool {
		s, err := f.manager.Get(sessionID)
		if err != nil {
			return false
		}
		got = s
		return s.State == want
	}, 3*time.Second, 5*time.Millisecond, "session %s never reached %s", sessionID, want)
	return got
}

func (f *fixture) activate(t *testing.T, citizenID string) *models.SosSession {
	s, err := f.manager.Activate(ActivateRequest{CitizenID: citizenID, Coordinate: citizenAt, Capabilities: []string{"ICU"}, Contacts: []string{"+911234567890"}})
	require.NoError(t, err)
	return s
}

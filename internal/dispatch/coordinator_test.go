package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"LifeSync/internal/facility"
	"LifeSync/internal/models"
	apperr "LifeSync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var citizen = models.Coordinate{Latitude: 17.3850, Longitude: 78.4867}

type scriptedReserver struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	calls    []string
}

func (s *scriptedReserver) Reserve(_ context.Context, facilityID, _ string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, facilityID)
	o, ok := s.outcomes[facilityID]
	if !ok {
		return Accept, nil
	}
	return o, nil
}

func setup(t *testing.T) (*facility.Registry, []models.RankedCandidate) {
	reg := facility.NewRegistry()
	require.NoError(t, reg.Register(models.Facility{ID: "city-general", Name: "City General", Latitude: 17.3957918, Longitude: 78.4867, Capabilities: []string{"ICU"}, AvailableBeds: 4}, false))
	require.NoError(t, reg.Register(models.Facility{ID: "st-mary-icu", Name: "St. Mary ICU", Latitude: 17.407483, Longitude: 78.4867, Capabilities: []string{"ICU"}, AvailableBeds: 2}, false))
	ranked, err := facility.NewRanker(reg, 40, 0).Rank(context.Background(), citizen, []string{"ICU"})
	require.NoError(t, err)
	return reg, ranked
}

func beds(t *testing.T, reg *facility.Registry, id string) int {
	f, err := reg.Get(id)
	require.NoError(t, err)
	return f.AvailableBeds
}

func TestAcceptFirstCandidate(t *testing.T) {
	reg, ranked := setup(t)
	c := NewCoordinator(reg, &scriptedReserver{}, time.Second, nil)

	var committed string
	id, err := c.AttemptAssignment(context.Background(), "s1", ranked, nil,
		func(fid string) error { committed = fid; return nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, "city-general", id)
	assert.Equal(t, "city-general", committed)
	assert.Equal(t, 3, beds(t, reg, "city-general"))
}

func TestRejectAdvancesToNext(t *testing.T) {
	reg, ranked := setup(t)
	res := &scriptedReserver{outcomes: map[string]Outcome{"city-general": Reject}}
	c := NewCoordinator(reg, res, time.Second, nil)

	var rejected []string
	id, err := c.AttemptAssignment(context.Background(), "s1", ranked, nil,
		func(string) error { return nil },
		func(fid string, o Outcome) { rejected = append(rejected, fid) })
	require.NoError(t, err)
	assert.Equal(t, "st-mary-icu", id)
	assert.Equal(t, []string{"city-general"}, rejected)
	assert.Equal(t, 4, beds(t, reg, "city-general"))
	assert.Equal(t, 1, beds(t, reg, "st-mary-icu"))
}

func TestAllRejectIsNoCandidate(t *testing.T) {
	reg, ranked := setup(t)
	res := &scriptedReserver{outcomes: map[string]Outcome{"city-general": Reject, "st-mary-icu": Timeout}}
	c := NewCoordinator(reg, res, time.Second, nil)

	var rejected []string
	_, err := c.AttemptAssignment(context.Background(), "s1", ranked, nil,
		func(string) error { t.Fatal("commit must not be called"); return nil },
		func(fid string, o Outcome) { rejected = append(rejected, fid) })
	assert.ErrorIs(t, err, ErrNoCandidate)
	assert.ErrorIs(t, err, apperr.ErrNoCoverage)
	assert.Equal(t, []string{"city-general", "st-mary-icu"}, rejected)
	assert.Equal(t, 4, beds(t, reg, "city-general"))
	assert.Equal(t, 2, beds(t, reg, "st-mary-icu"))
}

func TestExcludedAreSkipped(t *testing.T) {
	reg, ranked := setup(t)
	res := &scriptedReserver{}
	c := NewCoordinator(reg, res, time.Second, nil)

	id, err := c.AttemptAssignment(context.Background(), "s1", ranked, []string{"city-general"},
		func(string) error { return nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, "st-mary-icu", id)
	assert.Equal(t, []string{"st-mary-icu"}, res.calls)
}

func TestCommitFailureReleasesCapacity(t *testing.T) {
	reg, ranked := setup(t)
	c := NewCoordinator(reg, &scriptedReserver{}, time.Second, nil)

	cancelled := apperr.WithCode(apperr.CodeInvalidTransition, "session cancelled")
	_, err := c.AttemptAssignment(context.Background(), "s1", ranked, nil,
		func(string) error { return cancelled }, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, 4, beds(t, reg, "city-general"))
}

func TestUnderflowAtCommitSkipsCandidate(t *testing.T) {
	reg, ranked := setup(t)
	// 排名之后、提交之前床位被占满
	_, err := reg.UpdateCapacity("city-general", -4)
	require.NoError(t, err)

	c := NewCoordinator(reg, &scriptedReserver{}, time.Second, nil)
	id, err := c.AttemptAssignment(context.Background(), "s1", ranked, nil,
		func(string) error { return nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, "st-mary-icu", id)
	assert.Equal(t, 0, beds(t, reg, "city-general"))
}

func TestReserverErrorCountsAsTimeout(t *testing.T) {
	reg, ranked := setup(t)
	c := NewCoordinator(reg, reserverFunc(func(ctx context.Context, fid, sid string) (Outcome, error) {
		return Accept, errors.New("gateway down")
	}), time.Second, nil)

	var outcomes []Outcome
	_, err := c.AttemptAssignment(context.Background(), "s1", ranked, nil,
		func(string) error { return nil },
		func(_ string, o Outcome) { outcomes = append(outcomes, o) })
	assert.ErrorIs(t, err, ErrNoCandidate)
	assert.Equal(t, []Outcome{Timeout, Timeout}, outcomes)
}

type reserverFunc func(ctx context.Context, facilityID, sessionID string) (Outcome, error)

func (f reserverFunc) Reserve(ctx context.Context, facilityID, sessionID string) (Outcome, error) {
	return f(ctx, facilityID, sessionID)
}

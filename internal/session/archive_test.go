package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"LifeSync/internal/models"
	"LifeSync/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memArchiver struct {
	mu       sync.Mutex
	archived map[string]models.SosSession
	fail     bool
}

func (a *memArchiver) Archive(_ context.Context, s *models.SosSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("bucket unavailable")
	}
	if a.archived == nil {
		a.archived = map[string]models.SosSession{}
	}
	a.archived[s.ID] = *s
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) *models.SessionStore {
	db, err := util.InitDatabase("sqlite", "file::memory:", &models.SosSession{})
	require.NoError(t, err)
	return models.NewSessionStore(db)
}

func TestArchiveExpiredAfterRetention(t *testing.T) {
	store := newStore(t)
	arch := &memArchiver{}
	clk := &clock{now: time.Now()}
	cfg := testConfig()
	cfg.Retention = time.Hour
	f := newFixture(t, cfg, &scriptedReserver{}, WithStore(store), WithArchiver(arch), WithClock(clk.Now))

	done := f.activate(t, "citizen-1")
	f.waitState(t, done.ID, models.StateAssigned)
	require.NoError(t, f.manager.Resolve(done.ID))

	live := f.activate(t, "citizen-2")
	f.waitState(t, live.ID, models.StateAssigned)

	n, err := f.manager.ArchiveExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "retention window not elapsed")

	clk.Advance(2 * time.Hour)
	n, err = f.manager.ArchiveExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Contains(t, arch.archived, done.ID)
	assert.Equal(t, models.StateResolved, arch.archived[done.ID].State)
	_, err = f.manager.Get(done.ID)
	assert.Error(t, err)
	_, err = store.Get(context.Background(), done.ID)
	assert.Error(t, err)

	_, err = f.manager.Get(live.ID)
	assert.NoError(t, err, "non-terminal sessions are never archived")
}

func TestArchiveFailureKeepsSession(t *testing.T) {
	store := newStore(t)
	arch := &memArchiver{fail: true}
	clk := &clock{now: time.Now()}
	cfg := testConfig()
	cfg.Retention = time.Minute
	f := newFixture(t, cfg, &scriptedReserver{}, WithStore(store), WithArchiver(arch), WithClock(clk.Now))

	s := f.activate(t, "citizen-1")
	require.NoError(t, f.manager.Cancel(s.ID, true))
	clk.Advance(time.Hour)

	n, err := f.manager.ArchiveExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = store.Get(context.Background(), s.ID)
	assert.NoError(t, err)
}

func TestRestoreResumesSessions(t *testing.T) {
	store := newStore(t)
	cfg := testConfig()

	first := newFixture(t, cfg, &scriptedReserver{}, WithStore(store))
	assigned := first.activate(t, "citizen-1")
	first.waitState(t, assigned.ID, models.StateAssigned)
	require.NoError(t, first.manager.ConfirmDispatch(assigned.ID, ConfirmRequest{FacilityID: cityGeneral}))
	resolved := first.activate(t, "citizen-2")
	first.waitState(t, resolved.ID, models.StateAssigned)
	require.NoError(t, first.manager.Resolve(resolved.ID))
	first.manager.Close()

	second := newFixture(t, cfg, &scriptedReserver{}, WithStore(store))
	n, err := second.manager.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := second.manager.ActiveFor("citizen-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateEnRoute, got.State)
	assert.Equal(t, cityGeneral, got.AssignedFacility())

	_, err = second.manager.Activate(ActivateRequest{CitizenID: "citizen-1", Coordinate: citizenAt})
	assert.Error(t, err)
	require.NoError(t, second.manager.Resolve(got.ID))
}

package dispatch

import (
	"context"
	"testing"
	"time"

	apperr "LifeSync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleReserverAnswer(t *testing.T) {
	published := make(chan ReservationRequest, 1)
	r := NewConsoleReserver(func(req ReservationRequest) { published <- req })

	go func() {
		req := <-published
		assert.Len(t, r.Pending(req.FacilityID), 1)
		assert.NoError(t, r.Answer(req.FacilityID, req.SessionID, false))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := r.Reserve(ctx, "city-general", "s1")
	require.NoError(t, err)
	assert.Equal(t, Reject, outcome)
	assert.Empty(t, r.Pending("city-general"))
}

func TestConsoleReserverTimeout(t *testing.T) {
	r := NewConsoleReserver(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome, err := r.Reserve(ctx, "city-general", "s1")
	require.NoError(t, err)
	assert.Equal(t, Timeout, outcome)

	err = r.Answer("city-general", "s1", true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCoordinatorWithConsoleTimeout(t *testing.T) {
	reg, ranked := setup(t)
	r := NewConsoleReserver(nil)
	c := NewCoordinator(reg, r, 20*time.Millisecond, nil)

	var outcomes []Outcome
	_, err := c.AttemptAssignment(context.Background(), "s1", ranked, nil,
		func(string) error { return nil },
		func(_ string, o Outcome) { outcomes = append(outcomes, o) })
	assert.ErrorIs(t, err, ErrNoCandidate)
	assert.Equal(t, []Outcome{Timeout, Timeout}, outcomes)
}

func TestAutoReserver(t *testing.T) {
	o, err := AutoReserver{}.Reserve(context.Background(), "f", "s")
	require.NoError(t, err)
	assert.Equal(t, Accept, o)
}

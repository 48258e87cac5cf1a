package sos

import (
	"testing"

	apperrors "ResQFlow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		want Status
		err  error
	}{
		{Pending, EventAssign, Assigned, nil},
		{Pending, EventCancel, Cancelled, nil},
		{Pending, EventDispatch, "", apperrors.ErrInvalidTransition},
		{Pending, EventRescue, "", apperrors.ErrInvalidTransition},
		{Assigned, EventDispatch, EnRoute, nil},
		{Assigned, EventCancel, Cancelled, nil},
		{Assigned, EventRescue, "", apperrors.ErrInvalidTransition},
		{Assigned, EventAssign, "", apperrors.ErrInvalidTransition},
		{EnRoute, EventRescue, Rescued, nil},
		{EnRoute, EventCancel, "", apperrors.ErrInvalidTransition},
		{Rescued, EventCancel, "", apperrors.ErrTerminalStateViolation},
		{Cancelled, EventAssign, "", apperrors.ErrTerminalStateViolation},
	}
	for _, tc := range cases {
		got, err := tc.from.Next(tc.ev)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, "%s --%s-->", tc.from, tc.ev)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

// Rescued is only reachable through Assigned then EnRoute.
func TestRescuedReachability(t *testing.T) {
	events := []Event{EventAssign, EventDispatch, EventRescue, EventCancel}
	var walk func(s Status, path []Status)
	walk = func(s Status, path []Status) {
		for _, e := range events {
			next, err := s.Next(e)
			if err != nil {
				continue
			}
			p := append(append([]Status(nil), path...), next)
			if next == Rescued {
				assert.Equal(t, []Status{Pending, Assigned, EnRoute, Rescued}, p)
			}
			walk(next, p)
		}
	}
	walk(Pending, []Status{Pending})
}

func TestHasTeam(t *testing.T) {
	assert.False(t, Pending.HasTeam())
	assert.True(t, Assigned.HasTeam())
	assert.True(t, EnRoute.HasTeam())
	assert.True(t, Rescued.HasTeam())
	assert.False(t, Cancelled.HasTeam())
}

func TestEventFor(t *testing.T) {
	e, ok := EventFor(EnRoute)
	require.True(t, ok)
	assert.Equal(t, EventDispatch, e)
	_, ok = EventFor(Pending)
	assert.False(t, ok)
}

package sos

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ResQFlow/internal/models"
	"ResQFlow/internal/ratelimit"
	"ResQFlow/internal/testutil"
	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var seq atomic.Int64

type fixture struct {
	svc   *Service
	clock *testutil.Clock
	bus   *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Hour, 3, clock.Now)
	return &fixture{
		svc:   NewService(testutil.NewDB(t), limiter, zap.NewNop(), bus, clock.Now),
		clock: clock,
		bus:   bus,
	}
}

func validInput() SubmitInput {
	return SubmitInput{
		Name:          "Ayesha Khan",
		Phone:         "0300-1234567",
		CNIC:          "35202-1234567-1",
		Lat:           testutil.F64(31.5204),
		Lng:           testutil.F64(74.3587),
		Location:      "Shahdara, Lahore",
		PeopleCount:   4,
		EmergencyType: "Flood",
		Description:   "Water entering the house",
	}
}

func (f *fixture) submit(t *testing.T) *models.SOSRequest {
	t.Helper()
	in := validInput()
	// distinct submitters so the limiter stays out of the way
	in.CNIC = fmt.Sprintf("35202-%07d-1", seq.Add(1))
	req, _, err := f.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	return req
}

func (f *fixture) team(t *testing.T, name string, lat, lng float64) *models.RescueTeam {
	t.Helper()
	team, err := f.svc.CreateTeam(context.Background(), TeamInput{
		Name: name, Lat: testutil.F64(lat), Lng: testutil.F64(lng), Capacity: 6,
	})
	require.NoError(t, err)
	return team
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	near := f.team(t, "Rescue 1122 Shahdara", 31.55, 74.33)
	f.team(t, "Rescue 1122 Islamabad", 33.68, 73.05)

	var created []*models.SOSRequest
	f.bus.Connect(events.SOSCreated, func(sender any, payload any) {
		created = append(created, payload.(*models.SOSRequest))
	})

	req, est, err := f.svc.Submit(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, string(Pending), req.Status)
	assert.Equal(t, "flood", req.EmergencyType)
	assert.Equal(t, "3520212345671", req.SubmitterID)
	assert.Nil(t, req.AssignedTeamID)
	require.NotNil(t, est)
	assert.Equal(t, near.ID, est.TeamID)
	assert.Greater(t, est.Minutes, 0)
	require.Len(t, created, 1)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, string(Pending), got.StatusHistory[0].To)
}

func TestSubmitWithoutCoordinates(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.Lat, in.Lng = nil, nil
	_, est, err := f.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, est)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.CNIC = "3520212345671"
	in.Phone = "12345"
	in.PeopleCount = 0
	in.Lng = nil

	_, _, err := f.svc.Submit(context.Background(), in)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	var e *apperrors.Error
	require.True(t, apperrors.As(err, &e))
	keys := map[string]bool{}
	for _, kv := range e.Fields {
		keys[kv.Key] = true
	}
	assert.True(t, keys["cnic"])
	assert.True(t, keys["phone"])
	assert.True(t, keys["peopleCount"])
	assert.True(t, keys["locationLat"])
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := f.svc.Submit(ctx, validInput())
		require.NoError(t, err)
		f.clock.Advance(10 * time.Minute)
	}
	_, _, err := f.svc.Submit(ctx, validInput())
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	f.clock.Advance(time.Hour)
	_, _, err = f.svc.Submit(ctx, validInput())
	assert.NoError(t, err)
}

func TestFailedStoreDoesNotConsumeSlot(t *testing.T) {
	clock := testutil.NewClock(time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC))
	db := testutil.NewDB(t)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Hour, 3, clock.Now)
	svc := NewService(db, limiter, zap.NewNop(), events.NewBus(), clock.Now)
	ctx := context.Background()

	require.NoError(t, db.Migrator().DropTable(&models.SOSRequest{}))
	for i := 0; i < 4; i++ {
		_, _, err := svc.Submit(ctx, validInput())
		require.Error(t, err)
		assert.NotErrorIs(t, err, apperrors.ErrRateLimited)
	}

	require.NoError(t, models.Migrate(db))
	for i := 0; i < 3; i++ {
		_, _, err := svc.Submit(ctx, validInput())
		require.NoError(t, err)
	}
	_, _, err := svc.Submit(ctx, validInput())
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestLifecycleToRescued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t)
	team := f.team(t, "Team A", 31.5, 74.3)

	var changes []StatusChange
	f.bus.Connect(events.SOSStatusChanged, func(sender any, payload any) {
		changes = append(changes, payload.(StatusChange))
	})

	_, err := f.svc.UpdateStatus(ctx, req.ID, Rescued, "op-1", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "cannot skip to Rescued")

	got, err := f.svc.AssignTeam(ctx, req.ID, team.ID, "op-1")
	require.NoError(t, err)
	assert.Equal(t, string(Assigned), got.Status)
	require.NotNil(t, got.AssignedTeamID)
	assert.Equal(t, team.ID, *got.AssignedTeamID)
	tm, err := f.svc.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, string(TeamDeployed), tm.Status)

	_, err = f.svc.UpdateStatus(ctx, req.ID, Rescued, "op-1", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	f.clock.Advance(time.Minute)
	_, err = f.svc.UpdateStatus(ctx, req.ID, EnRoute, "op-1", "leaving base")
	require.NoError(t, err)
	tm, err = f.svc.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, string(TeamOnMission), tm.Status)

	f.clock.Advance(time.Minute)
	got, err = f.svc.UpdateStatus(ctx, req.ID, Rescued, "op-2", "")
	require.NoError(t, err)
	assert.Equal(t, string(Rescued), got.Status)
	assert.NotNil(t, got.AssignedTeamID)

	tm, err = f.svc.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, string(TeamAvailable), tm.Status)
	assert.Nil(t, tm.ActiveRequestID)

	_, err = f.svc.Cancel(ctx, req.ID, "op-1", "")
	assert.ErrorIs(t, err, apperrors.ErrTerminalStateViolation)

	var path []string
	for _, h := range got.StatusHistory {
		path = append(path, h.To)
	}
	assert.Equal(t, []string{"Pending", "Assigned", "EnRoute", "Rescued"}, path)
	assert.Equal(t, "op-2", got.StatusHistory[3].Actor)
	assert.Len(t, changes, 3)
}

func TestCancelAssignedReleasesTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t)
	team := f.team(t, "Team B", 31.5, 74.3)

	_, err := f.svc.AssignTeam(ctx, req.ID, team.ID, "op")
	require.NoError(t, err)

	got, err := f.svc.Cancel(ctx, req.ID, "op", "duplicate report")
	require.NoError(t, err)
	assert.Equal(t, string(Cancelled), got.Status)
	assert.Nil(t, got.AssignedTeamID)

	tm, err := f.svc.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, string(TeamAvailable), tm.Status)
}

func TestAssignUnavailableTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t)
	team := f.team(t, "Team C", 31.5, 74.3)

	_, err := f.svc.SetTeamAvailability(ctx, team.ID, false)
	require.NoError(t, err)

	_, err = f.svc.AssignTeam(ctx, req.ID, team.ID, "op")
	assert.ErrorIs(t, err, apperrors.ErrTeamUnavailable)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, string(Pending), got.Status)

	_, err = f.svc.AssignTeam(ctx, req.ID, "no-such-team", "op")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// Two operators assign TeamA to different requests at the same time.
func TestConcurrentDoubleAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.submit(t)
	in := validInput()
	in.CNIC = "42101-7654321-3"
	r2, _, err := f.svc.Submit(ctx, in)
	require.NoError(t, err)
	teamA := f.team(t, "TeamA", 31.5, 74.3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{r1.ID, r2.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.svc.AssignTeam(ctx, id, teamA.ID, "op")
		}(i, id)
	}
	wg.Wait()

	var ok, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperrors.Is(err, apperrors.ErrTeamUnavailable):
			unavailable++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, unavailable)

	tm, err := f.svc.GetTeam(ctx, teamA.ID)
	require.NoError(t, err)
	assert.Equal(t, string(TeamDeployed), tm.Status)
	require.NotNil(t, tm.ActiveRequestID)

	assigned, err := f.svc.List(ctx, Filter{Status: string(Assigned)})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, *tm.ActiveRequestID, assigned[0].ID)
}

func TestCandidateTeams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t)
	far := f.team(t, "Far", 33.68, 73.05)
	near := f.team(t, "Near", 31.52, 74.35)
	busy := f.team(t, "Busy", 31.52, 74.36)
	_, err := f.svc.SetTeamAvailability(ctx, busy.ID, false)
	require.NoError(t, err)

	cands, err := f.svc.CandidateTeams(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, near.ID, cands[0].Team.ID)
	assert.Equal(t, far.ID, cands[1].Team.ID)
	require.NotNil(t, cands[0].DistanceKm)
	assert.Less(t, *cands[0].DistanceKm, *cands[1].DistanceKm)
}

func TestUpdateStatusRejectsAssigned(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t)
	_, err := f.svc.UpdateStatus(context.Background(), req.ID, Assigned, "op", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.UpdateStatus(context.Background(), "missing", Cancelled, "op", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// Day windows are usually built in the operator's zone; they must match UTC-stored rows.
func TestTerminalBetweenZonedBounds(t *testing.T) {
	clock := testutil.NewClock(time.Date(2025, 8, 1, 20, 30, 0, 0, time.UTC))
	pkt := time.FixedZone("PKT", 5*60*60)
	now := func() time.Time { return clock.Now().In(pkt) }
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Hour, 3, clock.Now)
	svc := NewService(testutil.NewDB(t), limiter, zap.NewNop(), events.NewBus(), now)
	ctx := context.Background()

	req, _, err := svc.Submit(ctx, validInput())
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, req.ID, "civilian", "")
	require.NoError(t, err)

	// 01:30 on 2 August in PKT
	aug2 := time.Date(2025, 8, 2, 0, 0, 0, 0, pkt)
	got, err := svc.TerminalBetween(ctx, aug2, aug2.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, req.ID, got[0].ID)

	got, err = svc.TerminalBetween(ctx, aug2.AddDate(0, 0, -1), aug2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

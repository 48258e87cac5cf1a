package stock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ResQFlow/internal/models"
	"ResQFlow/internal/testutil"
	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/events"
	"ResQFlow/pkg/metrics"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newLedger(t *testing.T) (*Ledger, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	return NewLedger(testutil.NewDB(t), zap.NewNop(), events.NewBus(), clock.Now), clock
}

func TestReserveCommit(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Restock(ctx, models.ScopeNational, "Water", 100)
	require.NoError(t, err)

	res, err := l.Reserve(ctx, models.ScopeNational, "water", 40, "s-1")
	require.NoError(t, err)
	assert.Equal(t, string(ReservationPending), res.Status)

	row, err := l.Get(ctx, models.ScopeNational, "water")
	require.NoError(t, err)
	assert.EqualValues(t, 60, row.Quantity)

	committed, err := l.Commit(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ReservationCommitted), committed.Status)
	require.NotNil(t, committed.SettledAt)

	// idempotent
	again, err := l.Commit(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ReservationCommitted), again.Status)

	_, err = l.Release(ctx, res.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	row, err = l.Get(ctx, models.ScopeNational, "water")
	require.NoError(t, err)
	assert.EqualValues(t, 60, row.Quantity)
}

func TestReserveInsufficientLeavesStock(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Restock(ctx, models.ScopeNational, "water", 100)
	require.NoError(t, err)

	_, err = l.Reserve(ctx, models.ScopeNational, "water", 120, "s-1")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)

	_, err = l.Reserve(ctx, models.ScopeNational, "tents", 1, "s-2")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)

	row, err := l.Get(ctx, models.ScopeNational, "water")
	require.NoError(t, err)
	assert.EqualValues(t, 100, row.Quantity)
}

func TestReleaseRestores(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Restock(ctx, "punjab", "food", 10)
	require.NoError(t, err)
	res, err := l.Reserve(ctx, "punjab", "food", 10, "s-1")
	require.NoError(t, err)

	_, err = l.Release(ctx, res.ID)
	require.NoError(t, err)
	_, err = l.Release(ctx, res.ID)
	require.NoError(t, err, "release is idempotent")

	row, err := l.Get(ctx, "punjab", "food")
	require.NoError(t, err)
	assert.EqualValues(t, 10, row.Quantity)

	_, err = l.Commit(ctx, res.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Reserve(ctx, "", "water", 0, "s")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = l.Restock(ctx, models.ScopeNational, "water", -5)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = l.Commit(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReleaseStale(t *testing.T) {
	ctx := context.Background()
	l, clock := newLedger(t)

	_, err := l.Restock(ctx, models.ScopeNational, "water", 50)
	require.NoError(t, err)
	old, err := l.Reserve(ctx, models.ScopeNational, "water", 20, "s-old")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	fresh, err := l.Reserve(ctx, models.ScopeNational, "water", 5, "s-new")
	require.NoError(t, err)

	n, err := l.ReleaseStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := l.Reservation(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ReservationReleased), got.Status)
	got, err = l.Reservation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ReservationPending), got.Status)

	row, err := l.Get(ctx, models.ScopeNational, "water")
	require.NoError(t, err)
	assert.EqualValues(t, 45, row.Quantity)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Restock(ctx, models.ScopeNational, "blankets", 50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(ctx, models.ScopeNational, "blankets", 10, "s"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	row, err := l.Get(ctx, models.ScopeNational, "blankets")
	require.NoError(t, err)
	assert.EqualValues(t, 0, row.Quantity)
}

func TestStockChangedEvent(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	l := NewLedger(testutil.NewDB(t), zap.NewNop(), bus, nil)

	var got []Change
	bus.Connect(events.StockChanged, func(sender any, payload any) {
		got = append(got, payload.(Change))
	})

	_, err := l.Restock(ctx, models.ScopeNational, "water", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Change{Scope: models.ScopeNational, ResourceType: "water", Delta: 5, Reason: "restock"}, got[0])
}

func TestStockGaugeIgnoresRolledBackTx(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics()
	metrics.SetGlobal(m)
	t.Cleanup(func() { metrics.SetGlobal(nil) })

	db := testutil.NewDB(t)
	l := NewLedger(db, zap.NewNop(), events.NewBus(), nil)
	_, err := l.Restock(ctx, models.ScopeNational, "water", 100)
	require.NoError(t, err)

	gauge := func(qty string) string {
		return `
# HELP resqflow_stock_quantity Available stock after the last change
# TYPE resqflow_stock_quantity gauge
resqflow_stock_quantity{resource_type="water",scope="National"} ` + qty + "\n"
	}
	require.NoError(t, promtest.GatherAndCompare(m.Registry(), strings.NewReader(gauge("100")), "resqflow_stock_quantity"))

	boom := errors.New("abort")
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := l.InTx(tx).Reserve(ctx, models.ScopeNational, "water", 30, ""); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, promtest.GatherAndCompare(m.Registry(), strings.NewReader(gauge("100")), "resqflow_stock_quantity"))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := l.InTx(tx).Reserve(ctx, models.ScopeNational, "water", 30, "")
		return err
	}))
	assert.NoError(t, promtest.GatherAndCompare(m.Registry(), strings.NewReader(gauge("100")), "resqflow_stock_quantity"))
	require.NoError(t, l.ReportLevel(ctx, models.ScopeNational, "Water"))
	assert.NoError(t, promtest.GatherAndCompare(m.Registry(), strings.NewReader(gauge("70")), "resqflow_stock_quantity"))
}

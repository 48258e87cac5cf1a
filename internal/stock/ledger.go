// Package stock keeps per-scope resource quantities. Quantity moves only through guarded
// conditional updates, so no sequence of calls can drive a row negative.
package stock

import (
	"context"
	"errors"
	"strings"
	"time"

	"ResQFlow/internal/models"
	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/events"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "Pending"
	ReservationCommitted ReservationStatus = "Committed"
	ReservationReleased  ReservationStatus = "Released"
)

// Change is the payload of events.StockChanged.
type Change struct {
	Scope        string
	ResourceType string
	Delta        int64
	Reason       string
}

type Ledger struct {
	db   *gorm.DB
	log  *zap.Logger
	bus  *events.Bus
	now  func() time.Time
	inTx bool
}

func NewLedger(db *gorm.DB, log *zap.Logger, bus *events.Bus, now func() time.Time) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{db: db, log: log, bus: bus, now: util.UTCClock(now)}
}

// InTx returns a ledger whose operations run inside tx instead of opening their own
// transaction. Events are not emitted; the owner of tx reports the outcome.
func (l *Ledger) InTx(tx *gorm.DB) *Ledger {
	c := *l
	c.db = tx
	c.inTx = true
	return &c
}

func (l *Ledger) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if l.inTx {
		return fn(l.db.WithContext(ctx))
	}
	return l.db.WithContext(ctx).Transaction(fn)
}

func normalize(scope, resourceType string) (string, string) {
	return strings.TrimSpace(scope), strings.ToLower(strings.TrimSpace(resourceType))
}

func validate(scope, resourceType string, qty int64) error {
	fields := map[string]string{}
	if scope == "" {
		fields["scope"] = "required"
	}
	if resourceType == "" {
		fields["resourceType"] = "required"
	}
	if qty <= 0 {
		fields["quantity"] = "must be positive"
	}
	if len(fields) > 0 {
		return apperrors.Validation(fields)
	}
	return nil
}

// Reserve takes qty out of the available quantity and returns a Pending reservation.
func (l *Ledger) Reserve(ctx context.Context, scope, resourceType string, qty int64, suggestionID string) (*models.StockReservation, error) {
	scope, resourceType = normalize(scope, resourceType)
	if err := validate(scope, resourceType, qty); err != nil {
		return nil, err
	}

	var res *models.StockReservation
	var left int64
	err := l.transaction(ctx, func(tx *gorm.DB) error {
		now := l.now()
		upd := tx.Model(&models.ResourceStock{}).
			Where("scope = ? AND resource_type = ? AND quantity >= ?", scope, resourceType, qty).
			Updates(map[string]any{"quantity": gorm.Expr("quantity - ?", qty), "updated_at": now})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			available, err := quantity(tx, scope, resourceType)
			if err != nil {
				return err
			}
			return apperrors.Newf(apperrors.KindInsufficientStock,
				"requested %d %s from %s, only %d available", qty, resourceType, scope, available).
				WithContexts(map[string]string{"scope": scope, "resourceType": resourceType})
		}

		res = &models.StockReservation{
			ID:           uuid.NewString(),
			Scope:        scope,
			ResourceType: resourceType,
			Quantity:     qty,
			Status:       string(ReservationPending),
			SuggestionID: suggestionID,
			CreatedAt:    now,
		}
		if err := tx.Create(res).Error; err != nil {
			return err
		}
		var err error
		left, err = quantity(tx, scope, resourceType)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.changed(scope, resourceType, -qty, left, "reserve")
	return res, nil
}

// Commit makes a reservation's debit permanent. Committing twice is a no-op.
func (l *Ledger) Commit(ctx context.Context, reservationID string) (*models.StockReservation, error) {
	var res models.StockReservation
	err := l.transaction(ctx, func(tx *gorm.DB) error {
		if err := loadReservation(tx, reservationID, &res); err != nil {
			return err
		}
		switch ReservationStatus(res.Status) {
		case ReservationCommitted:
			return nil
		case ReservationReleased:
			return apperrors.InvalidTransition("reservation", res.Status, string(ReservationCommitted))
		}

		now := l.now()
		upd := tx.Model(&models.StockReservation{}).
			Where("id = ? AND status = ?", res.ID, string(ReservationPending)).
			Updates(map[string]any{"status": string(ReservationCommitted), "settled_at": now})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperrors.New(apperrors.KindConflict, "reservation settled concurrently")
		}
		res.Status = string(ReservationCommitted)
		res.SettledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Release returns a Pending reservation's quantity to stock. Releasing twice is a no-op.
func (l *Ledger) Release(ctx context.Context, reservationID string) (*models.StockReservation, error) {
	var res models.StockReservation
	var released bool
	var left int64
	err := l.transaction(ctx, func(tx *gorm.DB) error {
		if err := loadReservation(tx, reservationID, &res); err != nil {
			return err
		}
		switch ReservationStatus(res.Status) {
		case ReservationReleased:
			return nil
		case ReservationCommitted:
			return apperrors.InvalidTransition("reservation", res.Status, string(ReservationReleased))
		}

		now := l.now()
		upd := tx.Model(&models.StockReservation{}).
			Where("id = ? AND status = ?", res.ID, string(ReservationPending)).
			Updates(map[string]any{"status": string(ReservationReleased), "settled_at": now})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperrors.New(apperrors.KindConflict, "reservation settled concurrently")
		}
		if err := tx.Model(&models.ResourceStock{}).
			Where("scope = ? AND resource_type = ?", res.Scope, res.ResourceType).
			Updates(map[string]any{"quantity": gorm.Expr("quantity + ?", res.Quantity), "updated_at": now}).Error; err != nil {
			return err
		}
		res.Status = string(ReservationReleased)
		res.SettledAt = &now
		released = true
		var err error
		left, err = quantity(tx, res.Scope, res.ResourceType)
		return err
	})
	if err != nil {
		return nil, err
	}
	if released {
		l.changed(res.Scope, res.ResourceType, res.Quantity, left, "release")
	}
	return &res, nil
}

// Restock credits qty to (scope, resourceType), creating the row on first use.
func (l *Ledger) Restock(ctx context.Context, scope, resourceType string, qty int64) (*models.ResourceStock, error) {
	scope, resourceType = normalize(scope, resourceType)
	if err := validate(scope, resourceType, qty); err != nil {
		return nil, err
	}

	var row models.ResourceStock
	err := l.transaction(ctx, func(tx *gorm.DB) error {
		now := l.now()
		rec := models.ResourceStock{Scope: scope, ResourceType: resourceType, Quantity: qty, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "scope"}, {Name: "resource_type"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity":   gorm.Expr("resource_stocks.quantity + ?", qty),
				"updated_at": now,
			}),
		}).Create(&rec).Error; err != nil {
			return err
		}
		return tx.Where("scope = ? AND resource_type = ?", scope, resourceType).Take(&row).Error
	})
	if err != nil {
		return nil, err
	}
	l.changed(scope, resourceType, qty, row.Quantity, "restock")
	return &row, nil
}

// Get returns the stock row, or a zero-quantity row when none exists yet.
func (l *Ledger) Get(ctx context.Context, scope, resourceType string) (*models.ResourceStock, error) {
	scope, resourceType = normalize(scope, resourceType)
	var row models.ResourceStock
	err := l.db.WithContext(ctx).Where("scope = ? AND resource_type = ?", scope, resourceType).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.ResourceStock{Scope: scope, ResourceType: resourceType}, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns stock rows for scope, or every row when scope is empty.
func (l *Ledger) List(ctx context.Context, scope string) ([]models.ResourceStock, error) {
	var rows []models.ResourceStock
	q := l.db.WithContext(ctx).Order("scope, resource_type")
	if scope = strings.TrimSpace(scope); scope != "" {
		q = q.Where("scope = ?", scope)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Reservation loads one reservation.
func (l *Ledger) Reservation(ctx context.Context, id string) (*models.StockReservation, error) {
	var res models.StockReservation
	if err := loadReservation(l.db.WithContext(ctx), id, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReleaseStale releases Pending reservations created more than olderThan ago and returns how
// many were released. Failures on single reservations are logged and skipped.
func (l *Ledger) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	var ids []string
	cutoff := l.now().Add(-olderThan)
	if err := l.db.WithContext(ctx).Model(&models.StockReservation{}).
		Where("status = ? AND created_at < ?", string(ReservationPending), cutoff).
		Order("created_at").
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		if _, err := l.Release(ctx, id); err != nil {
			l.log.Warn("release stale reservation", zap.String("reservation_id", id), zap.Error(err))
			continue
		}
		released++
	}
	if released > 0 {
		l.log.Info("released stale reservations", zap.Int("count", released), zap.Time("cutoff", cutoff))
	}
	return released, nil
}

// ReportLevel publishes the committed quantity of one stock row to the stock gauge.
// Owners of an InTx ledger call it once their transaction has committed.
func (l *Ledger) ReportLevel(ctx context.Context, scope, resourceType string) error {
	row, err := l.Get(ctx, scope, resourceType)
	if err != nil {
		return err
	}
	metrics.G().SetStockLevel(row.Scope, row.ResourceType, row.Quantity)
	return nil
}

func (l *Ledger) changed(scope, resourceType string, delta, left int64, reason string) {
	if l.inTx {
		return
	}
	metrics.G().SetStockLevel(scope, resourceType, left)
	l.log.Debug("stock changed",
		zap.String("scope", scope),
		zap.String("resource_type", resourceType),
		zap.Int64("delta", delta),
		zap.Int64("quantity", left),
		zap.String("reason", reason))
	l.bus.Emit(events.StockChanged, l, Change{Scope: scope, ResourceType: resourceType, Delta: delta, Reason: reason})
}

func quantity(tx *gorm.DB, scope, resourceType string) (int64, error) {
	var q int64
	err := tx.Model(&models.ResourceStock{}).
		Where("scope = ? AND resource_type = ?", scope, resourceType).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&q).Error
	return q, err
}

func loadReservation(tx *gorm.DB, id string, res *models.StockReservation) error {
	err := tx.Where("id = ?", id).Take(res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("reservation", id)
	}
	return err
}

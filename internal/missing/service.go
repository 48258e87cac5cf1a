// Package missing tracks missing-person cases. Status changes are operator driven; the
// "critical" flag is derived on every read and never changes a case by itself.
package missing

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
)

type CreateInput struct {
	Name             string
	Age              int
	Gender           string
	LastSeenAt       time.Time
	LastSeenLocation string
	ReporterPhone    string
	DistrictID       string
	Description      string
}

type Filter struct {
	Status     string
	Critical   *bool
	DistrictID string
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	bus *events.Bus
	now func() time.Time
}

func NewService(db *gorm.DB, log *zap.Logger, bus *events.Bus, now func() time.Time) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log, bus: bus, now: util.UTCClock(now)}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.MissingPersonCase, error) {
	in.Name = strings.TrimSpace(in.Name)
	now := s.now()
	fields := map[string]string{}
	if in.Name == "" {
		fields["name"] = "required"
	}
	if in.Age < 0 || in.Age > 130 {
		fields["age"] = "out of range"
	}
	if in.LastSeenAt.IsZero() {
		fields["lastSeenAt"] = "required"
	} else if in.LastSeenAt.After(now) {
		fields["lastSeenAt"] = "must not be in the future"
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation(fields)
	}

	c := &models.MissingPersonCase{
		ID:               uuid.NewString(),
		Name:             in.Name,
		Age:              in.Age,
		Gender:           strings.TrimSpace(in.Gender),
		LastSeenAt:       in.LastSeenAt.UTC(),
		LastSeenLocation: strings.TrimSpace(in.LastSeenLocation),
		ReporterPhone:    strings.TrimSpace(in.ReporterPhone),
		DistrictID:       in.DistrictID,
		Description:      strings.TrimSpace(in.Description),
		Status:           string(Active),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	s.derive(c)
	s.log.Info("missing person case opened", zap.String("case_id", c.ID), zap.String("district_id", c.DistrictID))
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.MissingPersonCase, error) {
	var c models.MissingPersonCase
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("missing person case", id)
	}
	if err != nil {
		return nil, err
	}
	s.derive(&c)
	return &c, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]models.MissingPersonCase, error) {
	q := s.db.WithContext(ctx).Order("last_seen_at, id")
	if f.Status != "" {
		st, ok := ParseStatus(f.Status)
		if !ok {
			return nil, apperrors.Validation(map[string]string{"status": "unknown status"})
		}
		q = q.Where("status = ?", string(st))
	}
	if f.DistrictID != "" {
		q = q.Where("district_id = ?", f.DistrictID)
	}
	if f.Critical != nil {
		cutoff := s.cutoff()
		if *f.Critical {
			q = q.Where("status = ? AND last_seen_at <= ?", string(Active), cutoff)
		} else {
			q = q.Where("NOT (status = ? AND last_seen_at <= ?)", string(Active), cutoff)
		}
	}
	var out []models.MissingPersonCase
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i := range out {
		s.derive(&out[i])
	}
	return out, nil
}

// Critical returns Active cases at or past the declaration threshold.
func (s *Service) Critical(ctx context.Context) ([]models.MissingPersonCase, error) {
	yes := true
	return s.List(ctx, Filter{Critical: &yes})
}

// UpdateStatus moves a case forward. The update is guarded on the status and version read.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, actor string) (*models.MissingPersonCase, error) {
	var from Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.MissingPersonCase
		if err := tx.Where("id = ?", id).Take(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("missing person case", id)
			}
			return err
		}
		from = Status(c.Status)
		if _, err := from.Next(to); err != nil {
			return err
		}
		upd := tx.Model(&models.MissingPersonCase{}).
			Where("id = ? AND status = ? AND version = ?", id, c.Status, c.Version).
			Updates(map[string]any{
				"status":     string(to),
				"version":    gorm.Expr("version + 1"),
				"updated_at": s.now(),
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperrors.Newf(apperrors.KindInvalidTransition, "missing person case %s changed concurrently", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("missing person case status changed",
		zap.String("case_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))
	return s.Get(ctx, id)
}

// EscalationScan reports every critical case through the log and a MissingCritical event.
// It never changes a case.
func (s *Service) EscalationScan(ctx context.Context) (int, error) {
	cases, err := s.Critical(ctx)
	if err != nil {
		return 0, err
	}
	metrics.G().SetCriticalCases(len(cases))
	for i := range cases {
		c := &cases[i]
		s.log.Warn("missing person case past declaration threshold",
			zap.String("case_id", c.ID),
			zap.String("district_id", c.DistrictID),
			zap.Int("days_missing", c.DaysMissing))
		s.bus.Emit(events.MissingCritical, s, c)
	}
	return len(cases), nil
}

func (s *Service) cutoff() time.Time {
	return s.now().Add(-DeclarationThresholdDays * 24 * time.Hour)
}

func (s *Service) derive(c *models.MissingPersonCase) {
	c.DaysMissing = DaysMissing(c.LastSeenAt, s.now())
	c.ShouldBeDeclaredDead = ShouldBeDeclaredDead(Status(c.Status), c.DaysMissing)
}

// Package allocation ingests allocation suggestions from the prediction process and runs
// their one-time review. Approval moves stock from the national scope to the province in a
// single transaction.
package allocation

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"ResQFlow/internal/models"
	"ResQFlow/internal/stock"
	"ResQFlow/pkg/cache"
	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/events"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Status string

const (
	Pending  Status = "Pending"
	Approved Status = "Approved"
	Rejected Status = "Rejected"
)

type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// MinReasonLength is the minimum rejection reason length in characters, after trimming.
const MinReasonLength = 10

const (
	statsKey = "suggestions:stats"
	statsTTL = 30 * time.Second
)

type IngestInput struct {
	ID                string
	ProvinceID        string
	ResourceType      string
	SuggestedQuantity int64
	ConfidenceScore   float64
	RuleIDs           []string
	Reasoning         string
}

type Filter struct {
	Status       string
	ProvinceID   string
	ResourceType string
}

type Stats struct {
	Total        int64   `json:"total"`
	Pending      int64   `json:"pending"`
	Approved     int64   `json:"approved"`
	Rejected     int64   `json:"rejected"`
	ApprovalRate float64 `json:"approvalRate"`
}

// Reviewed is the payload of events.SuggestionReviewed.
type Reviewed struct {
	Suggestion *models.AllocationSuggestion
	Decision   Decision
	Reviewer   string
}

type Service struct {
	db     *gorm.DB
	ledger *stock.Ledger
	cache  cache.Cache
	log    *zap.Logger
	bus    *events.Bus
	now    func() time.Time
}

func NewService(db *gorm.DB, ledger *stock.Ledger, c cache.Cache, log *zap.Logger, bus *events.Bus, now func() time.Time) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, ledger: ledger, cache: c, log: log, bus: bus, now: util.UTCClock(now)}
}

// Ingest stores a new Pending suggestion, pre-flagged when the national stock is short.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*models.AllocationSuggestion, error) {
	in.ProvinceID = strings.TrimSpace(in.ProvinceID)
	in.ResourceType = strings.ToLower(strings.TrimSpace(in.ResourceType))
	fields := map[string]string{}
	if in.ProvinceID == "" || in.ProvinceID == models.ScopeNational {
		fields["provinceId"] = "a province is required"
	}
	if in.ResourceType == "" {
		fields["resourceType"] = "required"
	}
	if in.SuggestedQuantity <= 0 {
		fields["suggestedQuantity"] = "must be positive"
	}
	if in.ConfidenceScore < 0 || in.ConfidenceScore > 1 || math.IsNaN(in.ConfidenceScore) {
		fields["confidenceScore"] = "must be between 0 and 1"
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation(fields)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	national, err := s.ledger.Get(ctx, models.ScopeNational, in.ResourceType)
	if err != nil {
		return nil, err
	}
	flags := []string{}
	if national.Quantity < in.SuggestedQuantity {
		flags = append(flags, models.FlagInsufficientStock)
	}
	if in.RuleIDs == nil {
		in.RuleIDs = []string{}
	}

	now := s.now()
	sg := &models.AllocationSuggestion{
		ID:                in.ID,
		ProvinceID:        in.ProvinceID,
		ResourceType:      in.ResourceType,
		SuggestedQuantity: in.SuggestedQuantity,
		ConfidenceScore:   in.ConfidenceScore,
		RuleIDs:           in.RuleIDs,
		Flags:             flags,
		Reasoning:         strings.TrimSpace(in.Reasoning),
		Status:            string(Pending),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.AllocationSuggestion{}).Where("id = ?", sg.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperrors.Newf(apperrors.KindConflict, "suggestion %s already exists", sg.ID)
		}
		return tx.Create(sg).Error
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.log.Info("suggestion ingested",
		zap.String("suggestion_id", sg.ID),
		zap.String("province_id", sg.ProvinceID),
		zap.String("resource_type", sg.ResourceType),
		zap.Int64("quantity", sg.SuggestedQuantity),
		zap.Strings("flags", sg.Flags))
	s.bus.Emit(events.SuggestionIngested, s, sg)
	return sg, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.AllocationSuggestion, error) {
	var sg models.AllocationSuggestion
	if err := load(s.db.WithContext(ctx), id, &sg); err != nil {
		return nil, err
	}
	return &sg, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]models.AllocationSuggestion, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id")
	if f.Status != "" {
		switch st := Status(f.Status); st {
		case Pending, Approved, Rejected:
			q = q.Where("status = ?", string(st))
		default:
			return nil, apperrors.Validation(map[string]string{"status": "unknown status"})
		}
	}
	if f.ProvinceID != "" {
		q = q.Where("province_id = ?", f.ProvinceID)
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", strings.ToLower(f.ResourceType))
	}
	var out []models.AllocationSuggestion
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Allocation loads the transfer created by an approval.
func (s *Service) Allocation(ctx context.Context, id string) (*models.Allocation, error) {
	var a models.Allocation
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("allocation", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Review applies the single review a suggestion may receive.
func (s *Service) Review(ctx context.Context, id string, decision Decision, reason, reviewer string) (*models.AllocationSuggestion, error) {
	var (
		sg  *models.AllocationSuggestion
		err error
	)
	switch decision {
	case Approve:
		sg, err = s.approve(ctx, id, reviewer)
	case Reject:
		sg, err = s.reject(ctx, id, reason, reviewer)
	default:
		return nil, apperrors.Validation(map[string]string{"decision": "must be approve or reject"})
	}
	metrics.G().RecordReview(string(decision), string(apperrors.KindOf(err)))
	if err != nil {
		s.log.Info("suggestion review failed",
			zap.String("suggestion_id", id),
			zap.String("decision", string(decision)),
			zap.Error(err))
		return nil, err
	}

	s.invalidate(ctx)
	s.log.Info("suggestion reviewed",
		zap.String("suggestion_id", id),
		zap.String("decision", string(decision)),
		zap.String("reviewer", reviewer))
	s.bus.Emit(events.SuggestionReviewed, s, Reviewed{Suggestion: sg, Decision: decision, Reviewer: reviewer})
	return sg, nil
}

func (s *Service) approve(ctx context.Context, id, reviewer string) (*models.AllocationSuggestion, error) {
	var short bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sg models.AllocationSuggestion
		if err := load(tx, id, &sg); err != nil {
			return err
		}
		if Status(sg.Status) != Pending {
			return alreadyReviewed(&sg)
		}

		ledger := s.ledger.InTx(tx)
		res, err := ledger.Reserve(ctx, models.ScopeNational, sg.ResourceType, sg.SuggestedQuantity, sg.ID)
		if err != nil {
			short = apperrors.Is(err, apperrors.ErrInsufficientStock)
			return err
		}
		if _, err := ledger.Commit(ctx, res.ID); err != nil {
			return err
		}
		if _, err := ledger.Restock(ctx, sg.ProvinceID, sg.ResourceType, sg.SuggestedQuantity); err != nil {
			return err
		}

		now := s.now()
		alloc := &models.Allocation{
			ID:            uuid.NewString(),
			SuggestionID:  sg.ID,
			ReservationID: res.ID,
			FromScope:     models.ScopeNational,
			ToScope:       sg.ProvinceID,
			ResourceType:  sg.ResourceType,
			Quantity:      sg.SuggestedQuantity,
			ApprovedBy:    reviewer,
			CreatedAt:     now,
		}
		if err := tx.Create(alloc).Error; err != nil {
			return err
		}

		upd := tx.Model(&models.AllocationSuggestion{}).
			Where("id = ? AND status = ?", sg.ID, string(Pending)).
			Select("status", "allocation_id", "reviewed_at", "reviewed_by", "flags", "updated_at").
			Updates(&models.AllocationSuggestion{
				Status:       string(Approved),
				AllocationID: &alloc.ID,
				ReviewedAt:   &now,
				ReviewedBy:   reviewer,
				Flags:        withoutFlag(sg.Flags, models.FlagInsufficientStock),
				UpdatedAt:    now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperrors.Newf(apperrors.KindAlreadyReviewed, "suggestion %s was reviewed concurrently", id)
		}
		return nil
	})
	if err != nil {
		if short {
			// recorded outside the rolled-back transaction
			if ferr := s.setFlag(ctx, id, models.FlagInsufficientStock, true); ferr != nil {
				s.log.Warn("persist insufficient stock flag", zap.String("suggestion_id", id), zap.Error(ferr))
			}
			s.invalidate(ctx)
		}
		return nil, err
	}
	sg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, scope := range []string{models.ScopeNational, sg.ProvinceID} {
		if err := s.ledger.ReportLevel(ctx, scope, sg.ResourceType); err != nil {
			s.log.Warn("report stock level", zap.String("scope", scope), zap.Error(err))
		}
	}
	// national stock dropped; other Pending suggestions may now be short
	if _, err := s.RefreshFlags(ctx, sg.ResourceType); err != nil {
		s.log.Warn("refresh stock flags", zap.String("resource_type", sg.ResourceType), zap.Error(err))
	}
	return sg, nil
}

func (s *Service) reject(ctx context.Context, id, reason, reviewer string) (*models.AllocationSuggestion, error) {
	reason = strings.TrimSpace(reason)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sg models.AllocationSuggestion
		if err := load(tx, id, &sg); err != nil {
			return err
		}
		if Status(sg.Status) != Pending {
			return alreadyReviewed(&sg)
		}
		if utf8.RuneCountInString(reason) < MinReasonLength {
			return apperrors.Newf(apperrors.KindInvalidReason,
				"rejection reason must be at least %d characters", MinReasonLength)
		}

		now := s.now()
		upd := tx.Model(&models.AllocationSuggestion{}).
			Where("id = ? AND status = ?", id, string(Pending)).
			Updates(map[string]any{
				"status":           string(Rejected),
				"rejection_reason": reason,
				"reviewed_at":      now,
				"reviewed_by":      reviewer,
				"updated_at":       now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperrors.Newf(apperrors.KindAlreadyReviewed, "suggestion %s was reviewed concurrently", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// RefreshFlags recomputes INSUFFICIENT_STOCK for Pending suggestions of resourceType against
// the current national stock. It returns how many suggestions changed.
func (s *Service) RefreshFlags(ctx context.Context, resourceType string) (int, error) {
	national, err := s.ledger.Get(ctx, models.ScopeNational, resourceType)
	if err != nil {
		return 0, err
	}
	var pending []models.AllocationSuggestion
	if err := s.db.WithContext(ctx).
		Where("status = ? AND resource_type = ?", string(Pending), national.ResourceType).
		Find(&pending).Error; err != nil {
		return 0, err
	}
	changed := 0
	for _, sg := range pending {
		short := national.Quantity < sg.SuggestedQuantity
		if short == sg.HasFlag(models.FlagInsufficientStock) {
			continue
		}
		if err := s.setFlag(ctx, sg.ID, models.FlagInsufficientStock, short); err != nil {
			return changed, err
		}
		changed++
	}
	if changed > 0 {
		s.invalidate(ctx)
	}
	return changed, nil
}

// Stats is derived from the suggestion set and cached briefly; every write invalidates it.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if s.cache != nil && cache.GetJSON(ctx, s.cache, statsKey, &st) {
		metrics.G().RecordCacheHit("suggestion_stats")
		return &st, nil
	}
	metrics.G().RecordCacheMiss("suggestion_stats")

	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&models.AllocationSuggestion{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		st.Total += r.N
		switch Status(r.Status) {
		case Pending:
			st.Pending = r.N
		case Approved:
			st.Approved = r.N
		case Rejected:
			st.Rejected = r.N
		}
	}
	st.ApprovalRate = ApprovalRate(st.Approved, st.Rejected)

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, statsKey, st, statsTTL); err != nil {
			s.log.Debug("cache suggestion stats", zap.Error(err))
		}
	}
	return &st, nil
}

// ApprovalRate is approved/(approved+rejected) as a percentage with one decimal; 0 when
// nothing has been reviewed.
func ApprovalRate(approved, rejected int64) float64 {
	reviewed := approved + rejected
	if reviewed == 0 {
		return 0
	}
	return math.Round(float64(approved)/float64(reviewed)*1000) / 10
}

func (s *Service) setFlag(ctx context.Context, id, flag string, on bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sg models.AllocationSuggestion
		if err := load(tx, id, &sg); err != nil {
			return err
		}
		if Status(sg.Status) != Pending || sg.HasFlag(flag) == on {
			return nil
		}
		flags := withoutFlag(sg.Flags, flag)
		if on {
			flags = append(flags, flag)
		}
		return tx.Model(&models.AllocationSuggestion{}).
			Where("id = ? AND status = ?", id, string(Pending)).
			Select("flags", "updated_at").
			Updates(&models.AllocationSuggestion{Flags: flags, UpdatedAt: s.now()}).Error
	})
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsKey); err != nil {
		s.log.Warn("invalidate suggestion stats", zap.Error(err))
	}
}

func load(tx *gorm.DB, id string, sg *models.AllocationSuggestion) error {
	err := tx.Where("id = ?", id).Take(sg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("suggestion", id)
	}
	return err
}

func alreadyReviewed(sg *models.AllocationSuggestion) error {
	return apperrors.Newf(apperrors.KindAlreadyReviewed, "suggestion %s is already %s", sg.ID, sg.Status).
		WithContext("status", sg.Status)
}

func withoutFlag(flags []string, flag string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f != flag {
			out = append(out, f)
		}
	}
	return out
}

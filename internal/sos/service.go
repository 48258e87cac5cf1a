// Package sos runs SOS requests through their lifecycle and keeps rescue teams in step.
package sos

import (
	"context"
	"errors"
	"strings"
	"time"

	"ResQFlow/internal/geo"
	"ResQFlow/internal/models"
	"ResQFlow/internal/ratelimit"
	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/events"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResponseSpeedKmh is the average team speed used for response estimates.
const ResponseSpeedKmh = 40.0

type SubmitInput struct {
	Name          string
	Phone         string
	CNIC          string
	Lat           *float64
	Lng           *float64
	Location      string
	PeopleCount   int
	EmergencyType string
	Description   string
	ProvinceID    string
	DistrictID    string
}

// Estimate is the response estimate from the nearest available team. A nil *Estimate means
// no team could be ranked.
type Estimate struct {
	TeamID     string
	DistanceKm float64
	Minutes    int
}

// StatusChange is the payload of events.SOSStatusChanged.
type StatusChange struct {
	Request *models.SOSRequest
	From    Status
	To      Status
	Actor   string
}

type Filter struct {
	Status     string
	ProvinceID string
	DistrictID string
	Limit      int
	Offset     int
}

// Candidate is a team ranked by distance from a request.
type Candidate struct {
	Team       models.RescueTeam `json:"team"`
	DistanceKm *float64          `json:"distanceKm"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	bus     *events.Bus
	limiter *ratelimit.Limiter
	now     func() time.Time
}

func NewService(db *gorm.DB, limiter *ratelimit.Limiter, log *zap.Logger, bus *events.Bus, now func() time.Time) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log, bus: bus, limiter: limiter, now: util.UTCClock(now)}
}

func (in *SubmitInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.CNIC = strings.TrimSpace(in.CNIC)
	in.Location = strings.TrimSpace(in.Location)
	in.EmergencyType = strings.ToLower(strings.TrimSpace(in.EmergencyType))
	in.Description = strings.TrimSpace(in.Description)
}

func (in *SubmitInput) validate() error {
	fields := map[string]string{}
	if in.Name == "" {
		fields["name"] = "required"
	}
	if !ValidPhone(in.Phone) {
		fields["phone"] = "must be a Pakistani mobile number"
	}
	if !ValidCNIC(in.CNIC) {
		fields["cnic"] = "must match 12345-1234567-1"
	}
	if (in.Lat == nil) != (in.Lng == nil) {
		fields["locationLat"] = "latitude and longitude go together"
	} else if in.Lat != nil && !(geo.Point{Lat: *in.Lat, Lon: *in.Lng}).Valid() {
		fields["locationLat"] = "coordinates out of range"
	}
	if in.Lat == nil && in.Location == "" {
		fields["location"] = "coordinates or a location description is required"
	}
	if in.PeopleCount < 1 {
		fields["peopleCount"] = "must be at least 1"
	}
	if !validEmergencyType(in.EmergencyType) {
		fields["emergencyType"] = "must be one of " + strings.Join(EmergencyTypes, ", ")
	}
	if len(fields) > 0 {
		return apperrors.Validation(fields)
	}
	return nil
}

// Submit validates and rate-limits a civilian submission, then stores it as Pending.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*models.SOSRequest, *Estimate, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		metrics.G().RecordSOSSubmission("invalid")
		return nil, nil, err
	}
	submitter := SubmitterKey(in.CNIC)
	var slot ratelimit.Admission
	if s.limiter != nil {
		var err error
		if slot, err = s.limiter.Admit(ctx, submitter); err != nil {
			metrics.G().RecordSOSSubmission("rate_limited")
			return nil, nil, err
		}
	}

	now := s.now()
	req := &models.SOSRequest{
		ID:            uuid.NewString(),
		SubmitterID:   submitter,
		Name:          in.Name,
		Phone:         in.Phone,
		CNIC:          in.CNIC,
		Lat:           in.Lat,
		Lng:           in.Lng,
		Location:      in.Location,
		PeopleCount:   in.PeopleCount,
		EmergencyType: in.EmergencyType,
		Description:   in.Description,
		ProvinceID:    in.ProvinceID,
		DistrictID:    in.DistrictID,
		Status:        string(Pending),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		StatusHistory: []models.StatusHistoryEntry{{
			To:    string(Pending),
			Actor: submitter,
			Note:  "submitted",
			At:    now,
		}},
	}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		// an unstored request does not count against the submitter
		if s.limiter != nil {
			if ferr := s.limiter.Forget(context.WithoutCancel(ctx), slot); ferr != nil {
				s.log.Warn("give back rate limit slot", zap.String("submitter", submitter), zap.Error(ferr))
			}
		}
		return nil, nil, apperrors.Wrap(err, "store sos request")
	}

	est, err := s.estimate(ctx, req)
	if err != nil {
		s.log.Warn("estimate response", zap.String("sos_id", req.ID), zap.Error(err))
	}

	metrics.G().RecordSOSSubmission("accepted")
	s.log.Info("sos submitted",
		zap.String("sos_id", req.ID),
		zap.String("emergency_type", req.EmergencyType),
		zap.Int("people", req.PeopleCount))
	s.bus.Emit(events.SOSCreated, s, req)
	return req, est, nil
}

func (s *Service) estimate(ctx context.Context, req *models.SOSRequest) (*Estimate, error) {
	origin := point(req.Lat, req.Lng)
	if origin == nil {
		return nil, nil
	}
	var teams []models.RescueTeam
	if err := s.db.WithContext(ctx).Where("status = ?", string(TeamAvailable)).Find(&teams).Error; err != nil {
		return nil, err
	}
	ranked := rank(origin, teams)
	if len(ranked) == 0 || ranked[0].DistanceKm == nil {
		return nil, nil
	}
	km := *ranked[0].DistanceKm
	return &Estimate{TeamID: ranked[0].Team.ID, DistanceKm: km, Minutes: geo.TravelMinutes(km, ResponseSpeedKmh)}, nil
}

// Get loads a request with its history in order.
func (s *Service) Get(ctx context.Context, id string) (*models.SOSRequest, error) {
	var req models.SOSRequest
	err := s.db.WithContext(ctx).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB { return db.Order("at, id") }).
		Where("id = ?", id).Take(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("sos request", id)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]models.SOSRequest, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id")
	if f.Status != "" {
		st, ok := ParseStatus(f.Status)
		if !ok {
			return nil, apperrors.Validation(map[string]string{"status": "unknown status"})
		}
		q = q.Where("status = ?", string(st))
	}
	if f.ProvinceID != "" {
		q = q.Where("province_id = ?", f.ProvinceID)
	}
	if f.DistrictID != "" {
		q = q.Where("district_id = ?", f.DistrictID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	var out []models.SOSRequest
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListByIDs loads requests in the given order, skipping unknown ids.
func (s *Service) ListByIDs(ctx context.Context, ids []string) ([]models.SOSRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.SOSRequest
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]models.SOSRequest, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]models.SOSRequest, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// TerminalBetween returns requests that reached a terminal state in [from, to), with history.
func (s *Service) TerminalBetween(ctx context.Context, from, to time.Time) ([]models.SOSRequest, error) {
	from, to = from.UTC(), to.UTC()
	var out []models.SOSRequest
	err := s.db.WithContext(ctx).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB { return db.Order("at, id") }).
		Where("status IN ? AND updated_at >= ? AND updated_at < ?", []string{string(Rescued), string(Cancelled)}, from, to).
		Order("updated_at, id").
		Find(&out).Error
	return out, err
}

// CandidateTeams ranks Available teams by distance from the request.
func (s *Service) CandidateTeams(ctx context.Context, id string) ([]Candidate, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var teams []models.RescueTeam
	q := s.db.WithContext(ctx).Where("status = ?", string(TeamAvailable))
	if err := q.Find(&teams).Error; err != nil {
		return nil, err
	}
	return rank(point(req.Lat, req.Lng), teams), nil
}

// AssignTeam moves a Pending request to Assigned and deploys the team. The team must be
// Available at the moment of the guarded update.
func (s *Service) AssignTeam(ctx context.Context, id, teamID, actor string) (*models.SOSRequest, error) {
	if strings.TrimSpace(teamID) == "" {
		return nil, apperrors.Validation(map[string]string{"teamId": "required"})
	}
	return s.apply(ctx, id, EventAssign, actor, "", teamID)
}

// UpdateStatus applies the operator-driven transitions (EnRoute, Rescued, Cancelled).
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, actor, note string) (*models.SOSRequest, error) {
	if to == Assigned {
		return nil, apperrors.Validation(map[string]string{"status": "use assign-team to assign a team"})
	}
	ev, ok := EventFor(to)
	if !ok {
		return nil, apperrors.Validation(map[string]string{"status": "unknown target status"})
	}
	return s.apply(ctx, id, ev, actor, note, "")
}

// Cancel moves a Pending or Assigned request to Cancelled and frees its team.
func (s *Service) Cancel(ctx context.Context, id, actor, note string) (*models.SOSRequest, error) {
	return s.apply(ctx, id, EventCancel, actor, note, "")
}

func (s *Service) apply(ctx context.Context, id string, ev Event, actor, note, teamID string) (*models.SOSRequest, error) {
	var from, to Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.SOSRequest
		if err := tx.Where("id = ?", id).Take(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("sos request", id)
			}
			return err
		}
		from = Status(req.Status)
		var err error
		if to, err = from.Next(ev); err != nil {
			return err
		}

		now := s.now()
		updates := map[string]any{
			"status":     string(to),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}
		switch ev {
		case EventAssign:
			if err := deployTeam(tx, teamID, id, now); err != nil {
				return err
			}
			updates["assigned_team_id"] = teamID
		case EventDispatch:
			if err := moveTeam(tx, req.AssignedTeamID, id, TeamOnMission, now); err != nil {
				return err
			}
		case EventRescue, EventCancel:
			if err := moveTeam(tx, req.AssignedTeamID, id, TeamAvailable, now); err != nil {
				return err
			}
			if !to.HasTeam() {
				updates["assigned_team_id"] = nil
			}
		}

		upd := tx.Model(&models.SOSRequest{}).
			Where("id = ? AND status = ? AND version = ?", id, string(from), req.Version).
			Updates(updates)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperrors.Newf(apperrors.KindInvalidTransition, "sos request %s changed concurrently", id)
		}

		return tx.Create(&models.StatusHistoryEntry{
			RequestID: id,
			From:      string(from),
			To:        string(to),
			Actor:     actor,
			Note:      note,
			At:        now,
		}).Error
	})
	if err != nil {
		s.log.Debug("sos transition rejected",
			zap.String("sos_id", id),
			zap.String("event", string(ev)),
			zap.Error(err))
		return nil, err
	}

	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.G().RecordSOSTransition(string(from), string(to))
	s.log.Info("sos status changed",
		zap.String("sos_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))
	s.bus.Emit(events.SOSStatusChanged, s, StatusChange{Request: req, From: from, To: to, Actor: actor})
	return req, nil
}

// deployTeam claims an Available team for requestID.
func deployTeam(tx *gorm.DB, teamID, requestID string, now time.Time) error {
	upd := tx.Model(&models.RescueTeam{}).
		Where("id = ? AND status = ?", teamID, string(TeamAvailable)).
		Updates(map[string]any{
			"status":            string(TeamDeployed),
			"active_request_id": requestID,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        now,
		})
	if upd.Error != nil {
		return upd.Error
	}
	if upd.RowsAffected > 0 {
		return nil
	}
	var team models.RescueTeam
	if err := tx.Where("id = ?", teamID).Take(&team).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("rescue team", teamID)
		}
		return err
	}
	return apperrors.Newf(apperrors.KindTeamUnavailable, "rescue team %s is %s", team.Name, team.Status).
		WithContext("teamStatus", team.Status)
}

// moveTeam changes the status of the team bound to requestID. Available also unbinds it.
func moveTeam(tx *gorm.DB, teamID *string, requestID string, to TeamStatus, now time.Time) error {
	if teamID == nil {
		return nil
	}
	updates := map[string]any{
		"status":     string(to),
		"version":    gorm.Expr("version + 1"),
		"updated_at": now,
	}
	if to == TeamAvailable {
		updates["active_request_id"] = nil
	}
	return tx.Model(&models.RescueTeam{}).
		Where("id = ? AND active_request_id = ?", *teamID, requestID).
		Updates(updates).Error
}

func point(lat, lng *float64) *geo.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &geo.Point{Lat: *lat, Lon: *lng}
}

func rank(origin *geo.Point, teams []models.RescueTeam) []Candidate {
	byID := make(map[string]models.RescueTeam, len(teams))
	cands := make([]geo.Candidate, 0, len(teams))
	for _, t := range teams {
		byID[t.ID] = t
		cands = append(cands, geo.Candidate{ID: t.ID, Location: point(t.Lat, t.Lng)})
	}
	ranked := geo.Rank(origin, cands)
	out := make([]Candidate, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, Candidate{Team: byID[r.ID], DistanceKm: r.DistanceKm})
	}
	return out
}

package sos

import (
	"context"
	"errors"
	"strings"

	"ResQFlow/internal/models"
	apperrors "ResQFlow/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TeamInput struct {
	Name       string
	Lat        *float64
	Lng        *float64
	Capacity   int
	ProvinceID string
	DistrictID string
}

// CreateTeam registers an Available team.
func (s *Service) CreateTeam(ctx context.Context, in TeamInput) (*models.RescueTeam, error) {
	in.Name = strings.TrimSpace(in.Name)
	fields := map[string]string{}
	if in.Name == "" {
		fields["name"] = "required"
	}
	if in.Capacity < 0 {
		fields["capacity"] = "must not be negative"
	}
	if (in.Lat == nil) != (in.Lng == nil) {
		fields["lat"] = "latitude and longitude go together"
	} else if p := point(in.Lat, in.Lng); p != nil && !p.Valid() {
		fields["lat"] = "coordinates out of range"
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation(fields)
	}

	now := s.now()
	team := &models.RescueTeam{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Status:     string(TeamAvailable),
		Lat:        in.Lat,
		Lng:        in.Lng,
		Capacity:   in.Capacity,
		ProvinceID: in.ProvinceID,
		DistrictID: in.DistrictID,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(team).Error; err != nil {
		return nil, err
	}
	s.log.Info("rescue team created", zap.String("team_id", team.ID), zap.String("name", team.Name))
	return team, nil
}

func (s *Service) GetTeam(ctx context.Context, id string) (*models.RescueTeam, error) {
	var team models.RescueTeam
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&team).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("rescue team", id)
	}
	if err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *Service) ListTeams(ctx context.Context, status, provinceID string) ([]models.RescueTeam, error) {
	q := s.db.WithContext(ctx).Order("name, id")
	if status != "" {
		st, ok := ParseTeamStatus(status)
		if !ok {
			return nil, apperrors.Validation(map[string]string{"status": "unknown team status"})
		}
		q = q.Where("status = ?", string(st))
	}
	if provinceID != "" {
		q = q.Where("province_id = ?", provinceID)
	}
	var teams []models.RescueTeam
	if err := q.Find(&teams).Error; err != nil {
		return nil, err
	}
	return teams, nil
}

// SetTeamAvailability toggles a team between Available and Unavailable. A team bound to an
// active request cannot be toggled.
func (s *Service) SetTeamAvailability(ctx context.Context, id string, available bool) (*models.RescueTeam, error) {
	from, to := TeamUnavailable, TeamAvailable
	if !available {
		from, to = TeamAvailable, TeamUnavailable
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var team models.RescueTeam
		if err := tx.Where("id = ?", id).Take(&team).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("rescue team", id)
			}
			return err
		}
		if TeamStatus(team.Status) == to {
			return nil
		}
		upd := tx.Model(&models.RescueTeam{}).
			Where("id = ? AND status = ? AND version = ?", id, string(from), team.Version).
			Updates(map[string]any{
				"status":     string(to),
				"version":    gorm.Expr("version + 1"),
				"updated_at": s.now(),
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperrors.Newf(apperrors.KindTeamUnavailable, "rescue team %s is %s", team.Name, team.Status).
				WithContext("teamStatus", team.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTeam(ctx, id)
}

package handlers

import (
	"strconv"

	"ResQFlow/internal/ratelimit"
	"ResQFlow/internal/sos"
	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/middleware"
	"ResQFlow/pkg/response"
	"ResQFlow/pkg/search"

	"github.com/gin-gonic/gin"
)

type submitSOSRequest struct {
	Name          string   `json:"name" binding:"required"`
	Phone         string   `json:"phone" binding:"required,pkphone"`
	CNIC          string   `json:"cnic" binding:"required,cnic"`
	LocationLat   *float64 `json:"locationLat"`
	LocationLng   *float64 `json:"locationLng"`
	Location      string   `json:"location"`
	PeopleCount   int      `json:"peopleCount" binding:"required,gte=1"`
	EmergencyType string   `json:"emergencyType" binding:"required"`
	Description   string   `json:"description"`
	ProvinceID    string   `json:"provinceId"`
	DistrictID    string   `json:"districtId"`
}

type submitSOSResponse struct {
	ID                string   `json:"id"`
	Status            string   `json:"status"`
	EstimatedResponse string   `json:"estimatedResponse"`
	EstimatedMinutes  *int     `json:"estimatedMinutes,omitempty"`
	DistanceKm        *float64 `json:"distanceKm,omitempty"`
}

type assignTeamRequest struct {
	TeamID string `json:"teamId" binding:"required"`
}

type sosStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

type cancelSOSRequest struct {
	Note string `json:"note"`
}

type createTeamRequest struct {
	Name       string   `json:"name" binding:"required"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Capacity   int      `json:"capacity" binding:"gte=0"`
	ProvinceID string   `json:"provinceId"`
	DistrictID string   `json:"districtId"`
}

type teamAvailabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

func actorOf(c *gin.Context) string {
	a := middleware.ActorFrom(c)
	if a.ID != "" {
		return a.ID
	}
	return a.Role
}

// handleSubmitSOS 提交 SOS
func (h *Handlers) handleSubmitSOS(c *gin.Context) {
	var req submitSOSRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	created, est, err := h.SOS.Submit(c.Request.Context(), sos.SubmitInput{
		Name:          req.Name,
		Phone:         req.Phone,
		CNIC:          req.CNIC,
		Lat:           req.LocationLat,
		Lng:           req.LocationLng,
		Location:      req.Location,
		PeopleCount:   req.PeopleCount,
		EmergencyType: req.EmergencyType,
		Description:   req.Description,
		ProvinceID:    req.ProvinceID,
		DistrictID:    req.DistrictID,
	})
	if err != nil {
		if retry := ratelimit.RetryAfter(err); retry != "" {
			c.Header("Retry-After", retry)
		}
		response.Fail(c, err)
		return
	}

	out := submitSOSResponse{ID: created.ID, Status: created.Status}
	if est != nil {
		out.EstimatedMinutes = &est.Minutes
		out.DistanceKm = &est.DistanceKm
		out.EstimatedResponse = response.Localize(c, "EstimatedResponse", map[string]interface{}{"Minutes": est.Minutes})
	} else {
		out.EstimatedResponse = response.Localize(c, "EstimatedResponseUnknown", nil)
	}
	response.Created(c, out)
}

func (h *Handlers) handleGetSOS(c *gin.Context) {
	req, err := h.SOS.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, req)
}

// handleCancelSOS is the civilian's own cancellation.
func (h *Handlers) handleCancelSOS(c *gin.Context) {
	var req cancelSOSRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			response.Fail(c, err)
			return
		}
	}
	actor := actorOf(c)
	if actor == "" {
		actor = "civilian"
	}
	out, err := h.SOS.Cancel(c.Request.Context(), c.Param("id"), actor, req.Note)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, out)
}

func (h *Handlers) handleListSOS(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.SOS.List(c.Request.Context(), sos.Filter{
		Status:     c.Query("status"),
		ProvinceID: c.Query("provinceId"),
		DistrictID: c.Query("districtId"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, list)
}

func (h *Handlers) handleSearchSOS(c *gin.Context) {
	if h.Search == nil {
		response.Fail(c, apperrors.New(apperrors.KindNotFound, "search is disabled"))
		return
	}
	status := c.Query("status")
	if status != "" {
		st, ok := sos.ParseStatus(status)
		if !ok {
			response.Fail(c, apperrors.Validation(map[string]string{"status": "unknown status"}))
			return
		}
		status = string(st)
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	res, err := h.Search.Search(c.Request.Context(), search.SOSQuery(c.Query("q"), status, size))
	if err != nil {
		response.Fail(c, apperrors.Wrap(err, "search sos requests"))
		return
	}
	list, err := h.SOS.ListByIDs(c.Request.Context(), res.IDs())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"total": res.Total, "items": list})
}

func (h *Handlers) handleCandidateTeams(c *gin.Context) {
	list, err := h.SOS.CandidateTeams(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, list)
}

func (h *Handlers) handleAssignTeam(c *gin.Context) {
	var req assignTeamRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	out, err := h.SOS.AssignTeam(c.Request.Context(), c.Param("id"), req.TeamID, actorOf(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, out)
}

func (h *Handlers) handleUpdateSOSStatus(c *gin.Context) {
	var req sosStatusRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	to, ok := sos.ParseStatus(req.Status)
	if !ok {
		response.Fail(c, apperrors.Validation(map[string]string{"status": "unknown status"}))
		return
	}
	out, err := h.SOS.UpdateStatus(c.Request.Context(), c.Param("id"), to, actorOf(c), req.Note)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, out)
}

func (h *Handlers) handleListTeams(c *gin.Context) {
	list, err := h.SOS.ListTeams(c.Request.Context(), c.Query("status"), c.Query("provinceId"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, list)
}

func (h *Handlers) handleCreateTeam(c *gin.Context) {
	var req createTeamRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	team, err := h.SOS.CreateTeam(c.Request.Context(), sos.TeamInput{
		Name:       req.Name,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Capacity:   req.Capacity,
		ProvinceID: req.ProvinceID,
		DistrictID: req.DistrictID,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, team)
}

func (h *Handlers) handleTeamAvailability(c *gin.Context) {
	var req teamAvailabilityRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	team, err := h.SOS.SetTeamAvailability(c.Request.Context(), c.Param("id"), *req.Available)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, team)
}

package handlers

import (
	"strconv"
	"time"

	"ResQFlow/internal/missing"
	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/response"

	"github.com/gin-gonic/gin"
)

type createMissingRequest struct {
	Name             string    `json:"name" binding:"required"`
	Age              int       `json:"age" binding:"gte=0,lte=130"`
	Gender           string    `json:"gender"`
	LastSeenAt       time.Time `json:"lastSeenAt" binding:"required"`
	LastSeenLocation string    `json:"lastSeenLocation" binding:"required"`
	ReporterPhone    string    `json:"reporterPhone" binding:"omitempty,pkphone"`
	DistrictID       string    `json:"districtId"`
	Description      string    `json:"description"`
}

type missingStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handlers) handleCreateMissing(c *gin.Context) {
	var req createMissingRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	mc, err := h.Missing.Create(c.Request.Context(), missing.CreateInput{
		Name:             req.Name,
		Age:              req.Age,
		Gender:           req.Gender,
		LastSeenAt:       req.LastSeenAt,
		LastSeenLocation: req.LastSeenLocation,
		ReporterPhone:    req.ReporterPhone,
		DistrictID:       req.DistrictID,
		Description:      req.Description,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, mc)
}

func (h *Handlers) handleListMissing(c *gin.Context) {
	f := missing.Filter{Status: c.Query("status"), DistrictID: c.Query("districtId")}
	if raw := c.Query("critical"); raw != "" {
		critical, err := strconv.ParseBool(raw)
		if err != nil {
			response.Fail(c, apperrors.Validation(map[string]string{"critical": "must be true or false"}))
			return
		}
		f.Critical = &critical
	}
	list, err := h.Missing.List(c.Request.Context(), f)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, list)
}

func (h *Handlers) handleGetMissing(c *gin.Context) {
	mc, err := h.Missing.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, mc)
}

func (h *Handlers) handleUpdateMissingStatus(c *gin.Context) {
	var req missingStatusRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	to, ok := missing.ParseStatus(req.Status)
	if !ok {
		response.Fail(c, apperrors.Validation(map[string]string{"status": "must be Active, Found, Dead or Closed"}))
		return
	}
	mc, err := h.Missing.UpdateStatus(c.Request.Context(), c.Param("id"), to, actorOf(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, mc)
}

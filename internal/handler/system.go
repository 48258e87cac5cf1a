package handlers

import (
	"context"
	"net/http"
	"time"

	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/middleware"
	"ResQFlow/pkg/response"

	"github.com/gin-gonic/gin"
)

// rateLimiterSettings carries both limiters: the HTTP request throttle and the per-submitter
// SOS window. Omitted sections are left unchanged.
type rateLimiterSettings struct {
	HTTP *middleware.RateLimiterConfig `json:"http,omitempty"`
	SOS  *sosWindowSettings            `json:"sos,omitempty"`
}

type sosWindowSettings struct {
	Window string `json:"window" binding:"required"` // Go duration, e.g. "1h"
	Max    int    `json:"max" binding:"required,gte=1"`
}

func (h *Handlers) currentRateLimiterSettings() gin.H {
	out := gin.H{}
	if h.HTTPLimiter != nil {
		out["http"] = h.HTTPLimiter.Config()
	}
	if h.SOSLimiter != nil {
		window, max := h.SOSLimiter.Config()
		out["sos"] = gin.H{"window": window.String(), "max": max}
	}
	return out
}

func (h *Handlers) GetRateLimiterConfig(c *gin.Context) {
	response.OK(c, h.currentRateLimiterSettings())
}

// UpdateRateLimiterConfig 更新限流配置
func (h *Handlers) UpdateRateLimiterConfig(c *gin.Context) {
	var req rateLimiterSettings
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}

	var window time.Duration
	if req.SOS != nil {
		d, err := time.ParseDuration(req.SOS.Window)
		if err != nil || d <= 0 {
			response.Fail(c, apperrors.Validation(map[string]string{"sos.window": "must be a positive duration"}))
			return
		}
		window = d
	}
	if req.HTTP != nil {
		if err := req.HTTP.Validate(); err != nil {
			response.Fail(c, err)
			return
		}
	}

	// validated above; apply both or neither
	if req.SOS != nil && h.SOSLimiter != nil {
		h.SOSLimiter.SetConfig(window, req.SOS.Max)
	}
	if req.HTTP != nil && h.HTTPLimiter != nil {
		h.HTTPLimiter.UpdateConfig(*req.HTTP)
	}
	response.OK(c, h.currentRateLimiterSettings())
}

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

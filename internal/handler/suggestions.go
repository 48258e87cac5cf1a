package handlers

import (
	"ResQFlow/internal/allocation"
	"ResQFlow/pkg/response"

	"github.com/gin-gonic/gin"
)

type ingestSuggestionRequest struct {
	ID                string   `json:"id"`
	ProvinceID        string   `json:"provinceId" binding:"required"`
	ResourceType      string   `json:"resourceType" binding:"required"`
	SuggestedQuantity int64    `json:"suggestedQuantity" binding:"required,gt=0"`
	ConfidenceScore   float64  `json:"confidenceScore" binding:"gte=0,lte=1"`
	RuleIDs           []string `json:"ruleIds"`
	Reasoning         string   `json:"reasoning"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// handleIngestSuggestion is called by the prediction process; the route is HMAC-signed.
func (h *Handlers) handleIngestSuggestion(c *gin.Context) {
	var req ingestSuggestionRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	sg, err := h.Suggestions.Ingest(c.Request.Context(), allocation.IngestInput{
		ID:                req.ID,
		ProvinceID:        req.ProvinceID,
		ResourceType:      req.ResourceType,
		SuggestedQuantity: req.SuggestedQuantity,
		ConfidenceScore:   req.ConfidenceScore,
		RuleIDs:           req.RuleIDs,
		Reasoning:         req.Reasoning,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, sg)
}

func (h *Handlers) handleListSuggestions(c *gin.Context) {
	list, err := h.Suggestions.List(c.Request.Context(), allocation.Filter{
		Status:       c.Query("status"),
		ProvinceID:   c.Query("provinceId"),
		ResourceType: c.Query("resourceType"),
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, list)
}

func (h *Handlers) handleSuggestionStats(c *gin.Context) {
	st, err := h.Suggestions.Stats(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, st)
}

func (h *Handlers) handleGetSuggestion(c *gin.Context) {
	sg, err := h.Suggestions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, sg)
}

func (h *Handlers) handleApproveSuggestion(c *gin.Context) {
	sg, err := h.Suggestions.Review(c.Request.Context(), c.Param("id"), allocation.Approve, "", actorOf(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"allocationId": sg.AllocationID, "suggestion": sg})
}

func (h *Handlers) handleRejectSuggestion(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			response.Fail(c, err)
			return
		}
	}
	sg, err := h.Suggestions.Review(c.Request.Context(), c.Param("id"), allocation.Reject, req.Reason, actorOf(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, sg)
}

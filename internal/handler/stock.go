package handlers

import (
	"ResQFlow/pkg/response"

	"github.com/gin-gonic/gin"
)

type restockRequest struct {
	Scope        string `json:"scope" binding:"required"`
	ResourceType string `json:"resourceType" binding:"required"`
	Quantity     int64  `json:"quantity" binding:"required,gt=0"`
}

func (h *Handlers) handleListStock(c *gin.Context) {
	rows, err := h.Ledger.List(c.Request.Context(), c.Query("scope"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, rows)
}

func (h *Handlers) handleRestock(c *gin.Context) {
	var req restockRequest
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	row, err := h.Ledger.Restock(c.Request.Context(), req.Scope, req.ResourceType, req.Quantity)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, row)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/infrastructure/http/v1/dto"
)

// NCFHandler exposes number generation to remote callers.
type NCFHandler struct {
	*BaseHandler
	service *numbering.Service
}

// NewNCFHandler creates the handler.
func NewNCFHandler(base *BaseHandler, service *numbering.Service) *NCFHandler {
	return &NCFHandler{BaseHandler: base, service: service}
}

// Generate handles POST /ncf/generate. The body is always a numbering.Result;
// on failure the status follows the error kind.
func (h *NCFHandler) Generate(c *gin.Context) {
	var req dto.GenerateNCFRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res := h.service.GenerateNumber(c.Request.Context(), req.ComprobanteTypeID)
	status := http.StatusOK
	if !res.OK() {
		status = apperror.GetHTTPStatus(res.Err())
	}
	c.JSON(status, res)
}

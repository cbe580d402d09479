package handlers

import (
	"github.com/gin-gonic/gin"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/domain/sequence"
	"ncfpos/internal/infrastructure/http/v1/dto"
)

// SequenceHandler reports and provisions NCF sequences.
type SequenceHandler struct {
	*BaseHandler
	service *numbering.Service
}

// NewSequenceHandler creates the handler.
func NewSequenceHandler(base *BaseHandler, service *numbering.Service) *SequenceHandler {
	return &SequenceHandler{BaseHandler: base, service: service}
}

// Status handles GET /sequences/:typeId
func (h *SequenceHandler) Status(c *gin.Context) {
	typeID, ok := h.TypeIDParam(c, "typeId")
	if !ok {
		return
	}
	st, err := h.service.SequenceStatus(c.Request.Context(), typeID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, st)
}

// Alerts handles GET /sequences/alerts
func (h *SequenceHandler) Alerts(c *gin.Context) {
	alerts, err := h.service.SequenceAlerts(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse[sequence.Status](alerts))
}

// Provision handles PUT /sequences/:typeId
func (h *SequenceHandler) Provision(c *gin.Context) {
	typeID, ok := h.TypeIDParam(c, "typeId")
	if !ok {
		return
	}
	var req dto.ProvisionSequenceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	update, err := req.ToSequence(typeID)
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()))
		return
	}

	st, err := h.service.ProvisionSequence(c.Request.Context(), update)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, st)
}

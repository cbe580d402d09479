package handlers

import (
	"github.com/gin-gonic/gin"

	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/infrastructure/http/v1/dto"
)

// ComprobanteHandler serves the comprobante type catalog.
type ComprobanteHandler struct {
	*BaseHandler
	service *numbering.Service
}

// NewComprobanteHandler creates a catalog handler.
func NewComprobanteHandler(base *BaseHandler, service *numbering.Service) *ComprobanteHandler {
	return &ComprobanteHandler{BaseHandler: base, service: service}
}

// List handles GET /comprobante-types
func (h *ComprobanteHandler) List(c *gin.Context) {
	types, err := h.service.ListTypes(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromComprobanteTypes(types)))
}

// Get handles GET /comprobante-types/:id
func (h *ComprobanteHandler) Get(c *gin.Context) {
	typeID, ok := h.TypeIDParam(c, "id")
	if !ok {
		return
	}
	typ, err := h.service.GetType(c.Request.Context(), typeID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromComprobanteType(typ))
}

// Suggest handles POST /comprobante-types/suggest
func (h *ComprobanteHandler) Suggest(c *gin.Context) {
	var req dto.SuggestTypeRequest
	if !h.BindJSON(c, &req) {
		return
	}
	typ, matched, err := h.service.SuggestType(c.Request.Context(), req.ToFacts())
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.SuggestTypeResponse{Matched: matched}
	if matched {
		t := dto.FromComprobanteType(typ)
		resp.Type = &t
	}
	h.OK(c, resp)
}

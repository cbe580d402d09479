package handlers

import (
	"github.com/gin-gonic/gin"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/domain/order"
	"ncfpos/internal/infrastructure/http/v1/dto"
)

// OrderHandler drives the fiscal lifecycle of orders.
type OrderHandler struct {
	*BaseHandler
	service *order.Service
	journal numbering.JournalReader
}

// NewOrderHandler creates the handler. journal may be nil, in which case the
// events endpoint answers 404.
func NewOrderHandler(base *BaseHandler, service *order.Service, journal numbering.JournalReader) *OrderHandler {
	return &OrderHandler{BaseHandler: base, service: service, journal: journal}
}

// Create handles POST /orders
func (h *OrderHandler) Create(c *gin.Context) {
	var req dto.CreateOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}
	o, err := h.service.Create(c.Request.Context(), req.ToInput(h.TerminalID(c)))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromOrder(o))
}

// Get handles GET /orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	orderID, ok := h.OrderIDParam(c)
	if !ok {
		return
	}
	o, err := h.service.Get(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromOrder(o))
}

// SelectComprobante handles POST /orders/:id/comprobante. When the type was
// recorded but no number could be allocated, the response carries the order and
// the allocation error with the error's status.
func (h *OrderHandler) SelectComprobante(c *gin.Context) {
	orderID, ok := h.OrderIDParam(c)
	if !ok {
		return
	}
	var req dto.SelectComprobanteRequest
	if !h.BindJSON(c, &req) {
		return
	}

	o, err := h.service.SelectComprobante(c.Request.Context(), orderID, req.ComprobanteTypeID)
	if o == nil {
		h.Error(c, err)
		return
	}
	resp := dto.SelectComprobanteResponse{Order: dto.FromOrder(o)}
	if err != nil {
		resp.Error = numbering.ErrorFrom(req.ComprobanteTypeID, err).Error
		c.JSON(apperror.GetHTTPStatus(err), resp)
		return
	}
	h.OK(c, resp)
}

// OverrideNCF handles PUT /orders/:id/ncf
func (h *OrderHandler) OverrideNCF(c *gin.Context) {
	orderID, ok := h.OrderIDParam(c)
	if !ok {
		return
	}
	var req dto.OverrideNCFRequest
	if !h.BindJSON(c, &req) {
		return
	}
	o, err := h.service.OverrideNCF(c.Request.Context(), orderID, req.NCF)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromOrder(o))
}

// FinalizeCheck handles GET /orders/:id/finalize-check
func (h *OrderHandler) FinalizeCheck(c *gin.Context) {
	orderID, ok := h.OrderIDParam(c)
	if !ok {
		return
	}
	err := h.service.FinalizeCheck(c.Request.Context(), orderID)
	switch {
	case err == nil:
		h.OK(c, dto.FinalizeCheckResponse{CanFinalize: true})
	case apperror.IsFiscalNumberMissing(err):
		h.OK(c, dto.FinalizeCheckResponse{Error: numbering.ErrorFrom(0, err).Error})
	default:
		h.Error(c, err)
	}
}

// Finalize handles POST /orders/:id/finalize
func (h *OrderHandler) Finalize(c *gin.Context) {
	orderID, ok := h.OrderIDParam(c)
	if !ok {
		return
	}
	o, err := h.service.Finalize(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromOrder(o))
}

// Void handles POST /orders/:id/void
func (h *OrderHandler) Void(c *gin.Context) {
	orderID, ok := h.OrderIDParam(c)
	if !ok {
		return
	}
	var req dto.VoidOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}
	o, err := h.service.Void(c.Request.Context(), orderID, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromOrder(o))
}

// Events handles GET /orders/:id/events
func (h *OrderHandler) Events(c *gin.Context) {
	orderID, ok := h.OrderIDParam(c)
	if !ok {
		return
	}
	if h.journal == nil {
		h.Error(c, apperror.NewNotFound("fiscal journal", orderID.String()))
		return
	}
	ctx := c.Request.Context()
	if _, err := h.service.Get(ctx, orderID); err != nil {
		h.Error(c, err)
		return
	}
	events, err := h.journal.Events(ctx, orderID.String())
	if err != nil {
		h.Error(c, err)
		return
	}
	if events == nil {
		events = []numbering.Event{}
	}
	h.OK(c, dto.OrderEventsResponse{OrderID: orderID.String(), Events: events})
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ncfpos/internal/core/apperror"
	appctx "ncfpos/internal/core/context"
	"ncfpos/internal/core/id"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the Gin context and aborts the request.
// The response is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// OrderIDParam parses the :id path parameter as an order id.
func (h *BaseHandler) OrderIDParam(c *gin.Context) (id.ID, bool) {
	raw := c.Param("id")
	orderID, err := id.Parse(raw)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid order id").WithDetail("id", raw))
		return id.ID{}, false
	}
	return orderID, true
}

// TypeIDParam parses a comprobante type id path parameter.
func (h *BaseHandler) TypeIDParam(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	typeID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || typeID < 1 {
		h.Error(c, apperror.NewValidation("invalid comprobante type id").WithDetail(name, raw))
		return 0, false
	}
	return typeID, true
}

// TerminalID returns the authenticated terminal.
func (h *BaseHandler) TerminalID(c *gin.Context) string {
	return appctx.GetTerminalID(c.Request.Context())
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Created sends 201 response with data.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

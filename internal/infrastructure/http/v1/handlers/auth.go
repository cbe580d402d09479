package handlers

import (
	"github.com/gin-gonic/gin"

	"ncfpos/internal/domain/auth"
	"ncfpos/internal/infrastructure/http/v1/dto"
)

// AuthHandler handles terminal authentication.
type AuthHandler struct {
	*BaseHandler
	service *auth.Service
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *BaseHandler, service *auth.Service) *AuthHandler {
	return &AuthHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Login handles POST /auth/terminal
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.TerminalLoginRequest
	if !h.BindJSON(c, &req) {
		return
	}

	tokens, err := h.service.Authenticate(c.Request.Context(), req.TerminalID, req.Secret)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, tokens)
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(public *gin.RouterGroup) {
	public.POST("/terminal", h.Login)
}

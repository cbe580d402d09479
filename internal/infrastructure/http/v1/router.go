// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"ncfpos/internal/core/idempotency"
	"ncfpos/internal/domain/auth"
	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/domain/order"
	"ncfpos/internal/domain/report"
	"ncfpos/internal/infrastructure/http/v1/handlers"
	"ncfpos/internal/infrastructure/http/v1/middleware"
	"ncfpos/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// TokenValidator checks terminal bearer tokens
	TokenValidator middleware.TokenValidator

	// AuthService issues terminal tokens
	AuthService *auth.Service

	Numbering *numbering.Service
	Orders    *order.Service
	Reports   *report.Service

	// Journal serves GET /orders/:id/events; optional
	Journal numbering.JournalReader

	// Idempotency enables X-Idempotency-Key replay on mutating routes; optional
	Idempotency idempotency.Store

	// Backend names the storage backend for health output
	Backend string
	// HealthChecks are run by /health/ready
	HealthChecks map[string]handlers.Check

	// AdminRole is required to provision sequences
	AdminRole string

	// Debug keeps gin in debug mode
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = auth.RoleAdmin
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Backend, cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	base := handlers.NewBaseHandler()
	v1 := router.Group("/api/v1")
	{
		if cfg.AuthService != nil {
			handlers.NewAuthHandler(base, cfg.AuthService).RegisterRoutes(v1.Group("/auth"))
		}

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.TokenValidator))
		if cfg.Idempotency != nil {
			protected.Use(middleware.Idempotency(cfg.Idempotency))
		}

		registerNumberingRoutes(protected, base, cfg)
		if cfg.Orders != nil {
			RegisterOrderRoutes(protected.Group("/orders"), handlers.NewOrderHandler(base, cfg.Orders, cfg.Journal))
		}
		if cfg.Reports != nil {
			reportHandler := handlers.NewReportHandler(base, cfg.Reports)
			reports := protected.Group("/reports")
			reports.GET("/sales", reportHandler.Sales)
			reports.GET("/annulled", reportHandler.Annulled)
		}
	}

	return router
}

// registerNumberingRoutes registers the catalog, generation and sequence endpoints.
func registerNumberingRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Numbering == nil {
		return
	}

	types := handlers.NewComprobanteHandler(base, cfg.Numbering)
	catalog := rg.Group("/comprobante-types")
	{
		catalog.GET("", types.List)
		catalog.GET("/:id", types.Get)
		catalog.POST("/suggest", types.Suggest)
	}

	rg.POST("/ncf/generate", handlers.NewNCFHandler(base, cfg.Numbering).Generate)

	RegisterSequenceRoutes(rg.Group("/sequences"), handlers.NewSequenceHandler(base, cfg.Numbering), cfg.AdminRole)
}

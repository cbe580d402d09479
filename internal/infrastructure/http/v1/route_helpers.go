package v1

import (
	"github.com/gin-gonic/gin"

	"ncfpos/internal/infrastructure/http/v1/middleware"
)

// OrderRouteHandler defines the order lifecycle endpoints.
type OrderRouteHandler interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	SelectComprobante(c *gin.Context)
	OverrideNCF(c *gin.Context)
	FinalizeCheck(c *gin.Context)
	Finalize(c *gin.Context)
	Void(c *gin.Context)
	Events(c *gin.Context)
}

// SequenceRouteHandler defines the sequence endpoints.
type SequenceRouteHandler interface {
	Status(c *gin.Context)
	Alerts(c *gin.Context)
	Provision(c *gin.Context)
}

// RegisterOrderRoutes registers the order lifecycle under group.
func RegisterOrderRoutes(group *gin.RouterGroup, handler OrderRouteHandler) {
	group.POST("", handler.Create)
	group.GET("/:id", handler.Get)
	group.POST("/:id/comprobante", handler.SelectComprobante)
	group.PUT("/:id/ncf", handler.OverrideNCF)
	group.GET("/:id/finalize-check", handler.FinalizeCheck)
	group.POST("/:id/finalize", handler.Finalize)
	group.POST("/:id/void", handler.Void)
	group.GET("/:id/events", handler.Events)
}

// RegisterSequenceRoutes registers sequence status for every terminal and
// provisioning for adminRole.
func RegisterSequenceRoutes(group *gin.RouterGroup, handler SequenceRouteHandler, adminRole string) {
	group.GET("/alerts", handler.Alerts)
	group.GET("/:typeId", handler.Status)
	group.PUT("/:typeId", middleware.RequireRole(adminRole), handler.Provision)
}

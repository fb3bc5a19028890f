package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sales_service/internal/auth"
	"sales_service/internal/sales"
)

// Dependencies are the collaborators the HTTP layer needs. Idempotency is optional.
type Dependencies struct {
	Sales       *sales.Service
	Verifier    *auth.Verifier
	Idempotency IdempotencyStore
	Logger      *zap.Logger
}

// InitRoutes registers the sales endpoints on the given Gin engine.
func InitRoutes(e *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	salesHandler := NewSalesHandler(deps.Sales, deps.Idempotency, logger)

	e.Use(correlationID(), requestLogger(logger))

	g := e.Group("/api/sales", authenticate(deps.Verifier, logger))
	g.POST("", requireRole(auth.RoleAdmin, auth.RoleEmployee), salesHandler.handleCreateSale)
	g.GET("", salesHandler.handleListSales)
	g.GET("/:id", salesHandler.handleGetSale)

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
}

package inventory

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sales_service/internal/auth"
)

// Error codes in rejection bodies. They match what the sales gateway expects.
const (
	codeInsufficientStock = "insufficient_stock"
	codeProductNotFound   = "product_not_found"
	codeInvalidRequest    = "invalid_request"
)

// Handler exposes a Store over the inventory HTTP contract.
type Handler struct {
	store  *Store
	logger *zap.Logger
}

// NewHandler creates a Handler for the store.
func NewHandler(store *Store, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register binds the product routes on the engine. Every route requires a bearer token.
func (h *Handler) Register(e *gin.Engine) {
	g := e.Group("/api/products", requireBearer)
	g.GET("", h.handleList)
	g.GET("/:id", h.handleGet)
	g.PATCH("/decrement-stock", h.handleDecrement)
	g.PATCH("/increment-stock", h.handleIncrement)
}

func requireBearer(c *gin.Context) {
	if auth.BearerToken(c.GetHeader("Authorization")) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *Handler) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.List())
}

func (h *Handler) handleGet(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidRequest})
		return
	}
	p, err := h.store.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": codeProductNotFound, "productId": id})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) handleDecrement(c *gin.Context) {
	h.applyChanges(c, "decrement", h.store.Decrement)
}

func (h *Handler) handleIncrement(c *gin.Context) {
	h.applyChanges(c, "increment", h.store.Increment)
}

func (h *Handler) applyChanges(c *gin.Context, op string, apply func([]StockChange) error) {
	var changes []StockChange
	if err := c.ShouldBindJSON(&changes); err != nil || len(changes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidRequest})
		return
	}

	err := apply(changes)
	if err == nil {
		h.logger.Info("stock updated", zap.String("op", op), zap.Int("lines", len(changes)))
		c.Status(http.StatusOK)
		return
	}

	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("stock update rejected", zap.String("op", op), zap.Int64("product_id", lineErr.ProductID), zap.Error(err))

	switch {
	case errors.Is(err, ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": codeInsufficientStock, "productId": lineErr.ProductID})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": codeProductNotFound, "productId": lineErr.ProductID})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidRequest, "productId": lineErr.ProductID})
	}
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sales_service/internal/idempotency"
	"sales_service/internal/sales"
)

const idempotencyHeader = "Idempotency-Key"

// IdempotencyStore remembers Idempotency-Key values already used for a sale commit.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// salesHandler holds the sales service and implements HTTP handlers for sales operations.
type salesHandler struct {
	salesService *sales.Service
	idempotency  IdempotencyStore
	logger       *zap.Logger
}

// NewSalesHandler creates a new sales handler. idem may be nil.
func NewSalesHandler(salesService *sales.Service, idem IdempotencyStore, logger *zap.Logger) *salesHandler {
	return &salesHandler{
		salesService: salesService,
		idempotency:  idem,
		logger:       logger,
	}
}

// handleCreateSale handles the POST /api/sales endpoint.
func (h *salesHandler) handleCreateSale(ctx *gin.Context) {
	var req sales.CreateSaleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid request payload"})
		return
	}

	cred, _ := credentialFrom(ctx)

	key, claimed, ok := h.claim(ctx, cred.UserID)
	if !ok {
		return
	}

	sale, err := h.salesService.CreateSale(ctx.Request.Context(), cred, req)
	if err != nil {
		if claimed && releasable(err) {
			if rerr := h.idempotency.Release(context.WithoutCancel(ctx.Request.Context()), key); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(rerr))
			}
		}
		h.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, sale)
}

// claim reserves the request's Idempotency-Key. ok is false when the response was
// already written. Store errors are logged and the request proceeds unguarded.
func (h *salesHandler) claim(ctx *gin.Context, userID int64) (key string, claimed, ok bool) {
	raw := ctx.GetHeader(idempotencyHeader)
	if raw == "" || h.idempotency == nil {
		return "", false, true
	}

	key = idempotency.Key("sale", userID, raw)
	first, err := h.idempotency.Claim(ctx.Request.Context(), key)
	if err != nil {
		h.logger.Warn("idempotency store unavailable, continuing without it", zap.Error(err))
		return "", false, true
	}
	if !first {
		ctx.JSON(http.StatusConflict, gin.H{"error": "duplicate_request", "message": "idempotency key already used"})
		return "", false, false
	}
	return key, true, true
}

// releasable reports whether a failed commit left inventory untouched, so the
// same idempotency key may be used again.
func releasable(err error) bool {
	return errors.Is(err, sales.ErrInvalidRequest) ||
		errors.Is(err, sales.ErrUnauthenticated) ||
		errors.Is(err, sales.ErrUnknownProduct) ||
		errors.Is(err, sales.ErrInsufficientStock)
}

// handleListSales handles the GET /api/sales endpoint.
func (h *salesHandler) handleListSales(ctx *gin.Context) {
	all, err := h.salesService.ListSales(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to retrieve sales"})
		return
	}
	ctx.JSON(http.StatusOK, all)
}

// handleGetSale handles the GET /api/sales/:id endpoint.
func (h *salesHandler) handleGetSale(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid sale id"})
		return
	}

	sale, err := h.salesService.GetSale(ctx.Request.Context(), id)
	switch {
	case errors.Is(err, sales.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "sale not found"})
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to retrieve sale"})
	default:
		ctx.JSON(http.StatusOK, sale)
	}
}

func (h *salesHandler) writeError(ctx *gin.Context, err error) {
	var status int
	var code, message string

	switch {
	case errors.Is(err, sales.ErrInvalidRequest):
		status, code, message = http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, sales.ErrUnauthenticated):
		status, code, message = http.StatusUnauthorized, "unauthenticated", err.Error()
	case errors.Is(err, sales.ErrUnknownProduct):
		status, code, message = http.StatusBadRequest, "unknown_product", err.Error()
	case errors.Is(err, sales.ErrInsufficientStock):
		status, code, message = http.StatusBadRequest, "insufficient_stock", err.Error()
	case errors.Is(err, sales.ErrUpstreamUnavailable):
		status, code, message = http.StatusServiceUnavailable, "upstream_unavailable", sales.ErrUpstreamUnavailable.Error()
	case errors.Is(err, sales.ErrPersistenceFailed):
		status, code, message = http.StatusInternalServerError, "persistence_failed", sales.ErrPersistenceFailed.Error()
	default:
		status, code, message = http.StatusInternalServerError, "internal_error", "failed to create sale"
	}

	body := gin.H{"error": code, "message": message}
	var pe *sales.ProductError
	if errors.As(err, &pe) {
		body["productId"] = pe.ProductID
	}

	fields := []zap.Field{
		zap.String("correlation_id", ctx.GetString(correlationKey)),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("failed to create sale", fields...)
	} else {
		h.logger.Warn("sale rejected", fields...)
	}

	ctx.JSON(status, body)
}

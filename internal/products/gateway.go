package products

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"resty.dev/v3"
)

// ErrNotFound is returned when the inventory service reports that a product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrInsufficientStock is returned when a decrement asks for more than is on hand.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrUnavailable covers every other failure: transport errors, timeouts,
// unexpected statuses and malformed bodies.
var ErrUnavailable = errors.New("inventory service unavailable")

// Remote error codes returned in the body of stock update rejections.
const (
	CodeInsufficientStock = "insufficient_stock"
	CodeProductNotFound   = "product_not_found"
)

const (
	productPath   = "/api/products/{id}"
	decrementPath = "/api/products/decrement-stock"
	incrementPath = "/api/products/increment-stock"
)

// Snapshot is the product state returned by a lookup.
type Snapshot struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// StockRequest is one line of a stock update call.
type StockRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// StockError identifies the product that made a stock update fail.
// It wraps ErrInsufficientStock or ErrNotFound.
type StockError struct {
	ProductID int64
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("product %d: %v", e.ProductID, e.Err)
}

func (e *StockError) Unwrap() error { return e.Err }

// RemoteError is the error body sent by the inventory service.
type RemoteError struct {
	Error     string `json:"error"`
	ProductID int64  `json:"productId"`
}

// Client calls the inventory service over HTTP, forwarding the caller's bearer token.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a Client for the inventory service at baseURL. Every call is
// bounded by timeout and never retried.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetLogger(logger.Sugar())

	return &Client{http: c, logger: logger}
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	return c.http.Close()
}

// Lookup fetches a product by id.
func (c *Client) Lookup(ctx context.Context, productID int64, token string) (Snapshot, error) {
	ctx, span := otel.Tracer("products").Start(ctx, "products.Lookup")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", productID))

	var snap Snapshot
	var remote RemoteError
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("id", strconv.FormatInt(productID, 10)).
		SetResult(&snap).
		SetError(&remote).
		Get(productPath)
	if err != nil {
		c.logger.Warn("product lookup failed", zap.Int64("product_id", productID), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case res.StatusCode() == http.StatusNotFound && remote.Error == CodeProductNotFound:
		return Snapshot{}, ErrNotFound
	case res.StatusCode() != http.StatusOK:
		// An uncoded 404 is a route miss, usually a wrong INVENTORY_URL.
		c.logger.Warn("product lookup returned unexpected status",
			zap.Int64("product_id", productID),
			zap.Int("status", res.StatusCode()),
			zap.String("remote_error", remote.Error),
		)
		span.SetStatus(codes.Error, "unexpected status")
		return Snapshot{}, fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode())
	}

	if snap.ID != productID || snap.Price.IsNegative() || snap.Quantity < 0 {
		c.logger.Warn("product lookup returned malformed body", zap.Int64("product_id", productID))
		span.SetStatus(codes.Error, "malformed body")
		return Snapshot{}, fmt.Errorf("%w: malformed product body", ErrUnavailable)
	}
	return snap, nil
}

// DecrementStock reserves the given quantities in one call. The inventory service
// applies all lines or none.
func (c *Client) DecrementStock(ctx context.Context, reqs []StockRequest, token string) error {
	return c.updateStock(ctx, "products.DecrementStock", decrementPath, reqs, token)
}

// IncrementStock returns the given quantities to stock.
func (c *Client) IncrementStock(ctx context.Context, reqs []StockRequest, token string) error {
	return c.updateStock(ctx, "products.IncrementStock", incrementPath, reqs, token)
}

func (c *Client) updateStock(ctx context.Context, op, path string, reqs []StockRequest, token string) error {
	ctx, span := otel.Tracer("products").Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.Int("stock.lines", len(reqs)))

	var remote RemoteError
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(reqs).
		SetError(&remote).
		Patch(path)
	if err != nil {
		c.logger.Warn("stock update failed", zap.String("op", op), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.IsSuccess() {
		return nil
	}

	switch {
	case res.StatusCode() == http.StatusConflict && remote.Error == CodeInsufficientStock && remote.ProductID > 0:
		return &StockError{ProductID: remote.ProductID, Err: ErrInsufficientStock}
	case res.StatusCode() == http.StatusNotFound && remote.Error == CodeProductNotFound && remote.ProductID > 0:
		return &StockError{ProductID: remote.ProductID, Err: ErrNotFound}
	}

	c.logger.Warn("stock update returned unexpected status",
		zap.String("op", op),
		zap.Int("status", res.StatusCode()),
		zap.String("remote_error", remote.Error),
	)
	span.SetStatus(codes.Error, "unexpected status")
	return fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode())
}

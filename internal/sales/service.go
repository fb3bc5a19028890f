package sales

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sales_service/internal/auth"
	"sales_service/internal/products"
)

// ReservationPolicy selects how stock is taken from the inventory service.
type ReservationPolicy string

const (
	// PolicyBatched reserves every line in one call that succeeds or fails as a unit.
	PolicyBatched ReservationPolicy = "batched"
	// PolicyPerLine reserves line by line and returns already reserved lines on failure.
	PolicyPerLine ReservationPolicy = "per-line"
)

// MaxLineQuantity is the largest quantity a single sale line may request.
const MaxLineQuantity = math.MaxInt32

// DefaultCallTimeout bounds each outbound call when Options.CallTimeout is unset.
const DefaultCallTimeout = 5 * time.Second

// ParsePolicy converts a configuration value to a ReservationPolicy.
func ParsePolicy(v string) (ReservationPolicy, error) {
	switch ReservationPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", PolicyBatched:
		return PolicyBatched, nil
	case PolicyPerLine:
		return PolicyPerLine, nil
	}
	return "", fmt.Errorf("unknown stock policy %q", v)
}

// ProductGateway is the inventory service as seen by the sale commit.
type ProductGateway interface {
	Lookup(ctx context.Context, productID int64, token string) (products.Snapshot, error)
	DecrementStock(ctx context.Context, reqs []products.StockRequest, token string) error
	IncrementStock(ctx context.Context, reqs []products.StockRequest, token string) error
}

// Publisher announces committed sales.
type Publisher interface {
	PublishSaleCreated(ctx context.Context, sale *Sale) error
}

// Options tunes a Service. The zero value uses the batched policy and DefaultCallTimeout.
type Options struct {
	Policy      ReservationPolicy
	CallTimeout time.Duration
	Publisher   Publisher
	Now         func() time.Time
}

// Service commits and lists sales.
type Service struct {
	storage     Storage
	gateway     ProductGateway
	logger      *zap.Logger
	tracer      trace.Tracer
	policy      ReservationPolicy
	callTimeout time.Duration
	publisher   Publisher
	now         func() time.Time
}

// NewService creates a new Service.
func NewService(storage Storage, gateway ProductGateway, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyBatched
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		storage:     storage,
		gateway:     gateway,
		logger:      logger,
		tracer:      otel.Tracer("sales"),
		policy:      opts.Policy,
		callTimeout: opts.CallTimeout,
		publisher:   opts.Publisher,
		now:         opts.Now,
	}
}

// CreateSale validates the request, prices every line against inventory, reserves
// the stock and stores the sale. cred.Token is forwarded on every inventory call.
func (s *Service) CreateSale(ctx context.Context, cred auth.Credential, req CreateSaleRequest) (*Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sales.CreateSale")
	defer span.End()
	span.SetAttributes(
		attribute.Int("sale.lines", len(req.Items)),
		attribute.String("sale.policy", string(s.policy)),
	)

	sale, err := s.commit(ctx, cred, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("sale.id", sale.ID))
	return sale, nil
}

func (s *Service) commit(ctx context.Context, cred auth.Credential, req CreateSaleRequest) (*Sale, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if cred.Token == "" || cred.UserID <= 0 {
		return nil, ErrUnauthenticated
	}

	items, err := s.resolve(ctx, cred.Token, req.Items)
	if err != nil {
		s.logger.Warn("sale rejected while resolving products", zap.Int64("user_id", cred.UserID), zap.Error(err))
		return nil, err
	}
	total := totalOf(items)

	if err := s.reserve(ctx, cred.Token, items); err != nil {
		s.logger.Warn("sale rejected while reserving stock", zap.Int64("user_id", cred.UserID), zap.Error(err))
		return nil, err
	}

	sale := &Sale{
		Date:         s.now().UTC(),
		CustomerName: strings.TrimSpace(req.CustomerName),
		UserID:       cred.UserID,
		UserName:     cred.UserName,
		TotalAmount:  total,
		Items:        items,
	}

	// Stock is already gone at this point, so the write must not depend on the
	// caller staying connected.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	stored, err := s.storage.Append(writeCtx, sale)
	cancel()
	if err != nil {
		s.logger.Error("failed to save sale after stock was reserved; manual reconciliation required",
			zap.String("customer_name", sale.CustomerName),
			zap.Int64("user_id", sale.UserID),
			zap.String("total_amount", sale.TotalAmount.String()),
			zap.Any("items", sale.Items),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	s.publish(ctx, stored)
	s.logger.Info("sale created",
		zap.Int64("sale_id", stored.ID),
		zap.Int64("user_id", stored.UserID),
		zap.String("total_amount", stored.TotalAmount.String()),
		zap.Int("lines", len(stored.Items)),
	)
	return stored, nil
}

func validate(req CreateSaleRequest) error {
	if strings.TrimSpace(req.CustomerName) == "" {
		return invalid("customer name is required")
	}
	if len(req.Items) == 0 {
		return invalid("sale must contain at least one item")
	}
	for i, line := range req.Items {
		if line.ProductID <= 0 {
			return invalid(fmt.Sprintf("item %d: product id must be positive", i))
		}
		if line.Quantity <= 0 {
			return invalid(fmt.Sprintf("item %d: quantity must be greater than zero", i))
		}
		if line.Quantity > MaxLineQuantity {
			return invalid(fmt.Sprintf("item %d: quantity must not exceed %d", i, MaxLineQuantity))
		}
	}
	return nil
}

// resolve looks up every distinct product once and snapshots name and price.
func (s *Service) resolve(ctx context.Context, token string, lines []LineRequest) ([]SaleItem, error) {
	seen := make(map[int64]products.Snapshot, len(lines))
	items := make([]SaleItem, 0, len(lines))

	for _, line := range lines {
		snap, ok := seen[line.ProductID]
		if !ok {
			callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
			var err error
			snap, err = s.gateway.Lookup(callCtx, line.ProductID, token)
			cancel()
			switch {
			case errors.Is(err, products.ErrNotFound):
				return nil, &ProductError{ProductID: line.ProductID, Err: ErrUnknownProduct}
			case err != nil:
				return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
			}
			seen[line.ProductID] = snap
		}

		name := snap.Name
		if name == "" {
			name = "Unknown"
		}
		items = append(items, SaleItem{
			ProductID:   line.ProductID,
			ProductName: name,
			Quantity:    line.Quantity,
			UnitPrice:   snap.Price.Round(PriceScale),
		})
	}
	return items, nil
}

func (s *Service) reserve(ctx context.Context, token string, items []SaleItem) error {
	reqs := make([]products.StockRequest, 0, len(items))
	for _, it := range items {
		reqs = append(reqs, products.StockRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	if s.policy == PolicyPerLine {
		return s.reservePerLine(ctx, token, reqs)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return stockError(s.gateway.DecrementStock(callCtx, reqs, token))
}

func (s *Service) reservePerLine(ctx context.Context, token string, reqs []products.StockRequest) error {
	done := make([]products.StockRequest, 0, len(reqs))
	for _, r := range reqs {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := s.gateway.DecrementStock(callCtx, []products.StockRequest{r}, token)
		cancel()
		if err != nil {
			s.compensate(ctx, token, done)
			return stockError(err)
		}
		done = append(done, r)
	}
	return nil
}

// compensate returns confirmed reservations in reverse order. A line whose
// decrement timed out is not in done and is not returned.
func (s *Service) compensate(ctx context.Context, token string, done []products.StockRequest) {
	base := context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		r := done[i]
		callCtx, cancel := context.WithTimeout(base, s.callTimeout)
		err := s.gateway.IncrementStock(callCtx, []products.StockRequest{r}, token)
		cancel()
		if err != nil {
			s.logger.Error("failed to return reserved stock; manual reconciliation required",
				zap.Int64("product_id", r.ProductID),
				zap.Int("quantity", r.Quantity),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("returned reserved stock", zap.Int64("product_id", r.ProductID), zap.Int("quantity", r.Quantity))
	}
}

func stockError(err error) error {
	if err == nil {
		return nil
	}
	var se *products.StockError
	if errors.As(err, &se) {
		switch {
		case errors.Is(se.Err, products.ErrInsufficientStock):
			return &ProductError{ProductID: se.ProductID, Err: ErrInsufficientStock}
		case errors.Is(se.Err, products.ErrNotFound):
			return &ProductError{ProductID: se.ProductID, Err: ErrUnknownProduct}
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func (s *Service) publish(ctx context.Context, sale *Sale) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	if err := s.publisher.PublishSaleCreated(pubCtx, sale); err != nil {
		s.logger.Warn("failed to publish sale event", zap.Int64("sale_id", sale.ID), zap.Error(err))
	}
}

// ListSales returns every sale in creation order.
func (s *Service) ListSales(ctx context.Context) ([]*Sale, error) {
	all, err := s.storage.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to get all sales from storage", zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve sales: %w", err)
	}
	return all, nil
}

// GetSale returns one sale by ID.
func (s *Service) GetSale(ctx context.Context, id int64) (*Sale, error) {
	sale, err := s.storage.Read(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("failed to read sale", zap.Int64("sale_id", id), zap.Error(err))
		}
		return nil, err
	}
	return sale, nil
}

package sales

import (
	"errors"
	"fmt"
)

// Outcomes of a failed sale commit.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUnknownProduct      = errors.New("unknown product")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrUpstreamUnavailable = errors.New("inventory service unavailable")
	ErrPersistenceFailed   = errors.New("failed to persist sale")
)

// ProductError carries the product id behind ErrUnknownProduct or ErrInsufficientStock.
type ProductError struct {
	ProductID int64
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("%v: product %d", e.Err, e.ProductID)
}

func (e *ProductError) Unwrap() error { return e.Err }

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

package inventory

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a product id is unknown.
var ErrNotFound = errors.New("product not found")

// ErrInsufficientStock is returned when a decrement exceeds the quantity on hand.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrInvalidQuantity is returned for non-positive quantities in a stock update, or
// for an increment that would overflow the stock counter.
var ErrInvalidQuantity = errors.New("invalid quantity")

// Product is a product record owned by the inventory store.
type Product struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// StockChange is one line of a stock update.
type StockChange struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// LineError names the product that rejected a stock update.
type LineError struct {
	ProductID int64
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("product %d: %v", e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Store is an in-memory inventory. Every stock update is checked and applied
// under one lock, so a batch is all-or-nothing.
type Store struct {
	mu       sync.Mutex
	products map[int64]Product
}

// NewStore creates a Store seeded with the given products.
func NewStore(seed ...Product) *Store {
	s := &Store{products: make(map[int64]Product, len(seed))}
	for _, p := range seed {
		s.products[p.ID] = p
	}
	return s
}

// Get returns a product by id.
func (s *Store) Get(id int64) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

// List returns all products ordered by id.
func (s *Store) List() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Decrement removes the requested quantities. Either every line is applied or,
// on the first rejected line, none is. Repeated product ids are summed.
func (s *Store) Decrement(changes []StockChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[int64]int, len(changes))
	for _, c := range changes {
		if c.Quantity <= 0 {
			return &LineError{ProductID: c.ProductID, Err: ErrInvalidQuantity}
		}
		p, ok := s.products[c.ProductID]
		if !ok {
			return &LineError{ProductID: c.ProductID, Err: ErrNotFound}
		}
		if c.Quantity > p.Quantity-want[c.ProductID] {
			return &LineError{ProductID: c.ProductID, Err: ErrInsufficientStock}
		}
		want[c.ProductID] += c.Quantity
	}

	for id, qty := range want {
		p := s.products[id]
		p.Quantity -= qty
		s.products[id] = p
	}
	return nil
}

// Increment returns quantities to stock, all-or-nothing.
func (s *Store) Increment(changes []StockChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	add := make(map[int64]int, len(changes))
	for _, c := range changes {
		if c.Quantity <= 0 {
			return &LineError{ProductID: c.ProductID, Err: ErrInvalidQuantity}
		}
		p, ok := s.products[c.ProductID]
		if !ok {
			return &LineError{ProductID: c.ProductID, Err: ErrNotFound}
		}
		if c.Quantity > math.MaxInt-p.Quantity-add[c.ProductID] {
			return &LineError{ProductID: c.ProductID, Err: ErrInvalidQuantity}
		}
		add[c.ProductID] += c.Quantity
	}
	for id, qty := range add {
		p := s.products[id]
		p.Quantity += qty
		s.products[id] = p
	}
	return nil
}

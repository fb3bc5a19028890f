package sales

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a sale with the given ID is not found.
var ErrNotFound = errors.New("sale not found")

// ErrAlreadyStored is returned when trying to append a sale that already has an ID.
var ErrAlreadyStored = errors.New("sale already has an ID")

// Storage is the sale ledger. It only appends and reads; sales are never updated or deleted.
type Storage interface {
	// Append stores a new sale and returns it with its assigned ID.
	Append(ctx context.Context, sale *Sale) (*Sale, error)
	Read(ctx context.Context, id int64) (*Sale, error)
	// GetAll returns every sale in creation order.
	GetAll(ctx context.Context) ([]*Sale, error)
}

// LocalStorage provides an in-memory implementation for storing sales.
type LocalStorage struct {
	mu     sync.RWMutex
	sales  []*Sale
	nextID int64
}

// NewLocalStorage instantiates a new empty LocalStorage.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{nextID: 1}
}

// Append assigns the next sequential ID and stores a copy of the sale.
func (l *LocalStorage) Append(_ context.Context, sale *Sale) (*Sale, error) {
	if sale.ID != 0 {
		return nil, ErrAlreadyStored
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored := sale.clone()
	stored.ID = l.nextID
	l.nextID++
	l.sales = append(l.sales, stored)
	return stored.clone(), nil
}

// Read retrieves a sale by ID.
// Returns ErrNotFound if the sale is not found.
func (l *LocalStorage) Read(_ context.Context, id int64) (*Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// IDs are dense and start at 1.
	if id < 1 || id > int64(len(l.sales)) {
		return nil, ErrNotFound
	}
	return l.sales[id-1].clone(), nil
}

// GetAll retrieves all sales in insertion order.
func (l *LocalStorage) GetAll(_ context.Context) ([]*Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Sale, 0, len(l.sales))
	for _, s := range l.sales {
		out = append(out, s.clone())
	}
	return out, nil
}

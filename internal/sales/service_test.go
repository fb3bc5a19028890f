package sales

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sales_service/internal/auth"
	"sales_service/internal/products"
)

// fakeGateway is an in-memory inventory with call counters.
type fakeGateway struct {
	mu       sync.Mutex
	products map[int64]products.Snapshot

	lookupErr    error
	blockLookups bool
	decrementErr error
	incrementErr error

	lookups    int
	decrements [][]products.StockRequest
	increments [][]products.StockRequest
	tokens     []string
}

func newFakeGateway(snaps ...products.Snapshot) *fakeGateway {
	g := &fakeGateway{products: map[int64]products.Snapshot{}}
	for _, s := range snaps {
		g.products[s.ID] = s
	}
	return g
}

func (g *fakeGateway) Lookup(ctx context.Context, id int64, token string) (products.Snapshot, error) {
	g.mu.Lock()
	g.lookups++
	g.tokens = append(g.tokens, token)
	block, lookupErr := g.blockLookups, g.lookupErr
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return products.Snapshot{}, products.ErrUnavailable
	}
	if lookupErr != nil {
		return products.Snapshot{}, lookupErr
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.products[id]
	if !ok {
		return products.Snapshot{}, products.ErrNotFound
	}
	return p, nil
}

func (g *fakeGateway) DecrementStock(_ context.Context, reqs []products.StockRequest, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decrements = append(g.decrements, reqs)
	g.tokens = append(g.tokens, token)
	if g.decrementErr != nil {
		return g.decrementErr
	}

	want := map[int64]int{}
	for _, r := range reqs {
		p, ok := g.products[r.ProductID]
		if !ok {
			return &products.StockError{ProductID: r.ProductID, Err: products.ErrNotFound}
		}
		want[r.ProductID] += r.Quantity
		if want[r.ProductID] > p.Quantity {
			return &products.StockError{ProductID: r.ProductID, Err: products.ErrInsufficientStock}
		}
	}
	for id, q := range want {
		p := g.products[id]
		p.Quantity -= q
		g.products[id] = p
	}
	return nil
}

func (g *fakeGateway) IncrementStock(_ context.Context, reqs []products.StockRequest, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.increments = append(g.increments, reqs)
	g.tokens = append(g.tokens, token)
	if g.incrementErr != nil {
		return g.incrementErr
	}
	for _, r := range reqs {
		p := g.products[r.ProductID]
		p.Quantity += r.Quantity
		g.products[r.ProductID] = p
	}
	return nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookups + len(g.decrements) + len(g.increments)
}

func (g *fakeGateway) stock(id int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.products[id].Quantity
}

type failingStorage struct {
	*LocalStorage
	err error
}

func (f *failingStorage) Append(context.Context, *Sale) (*Sale, error) {
	return nil, f.err
}

type recordingPublisher struct {
	mu    sync.Mutex
	sales []*Sale
	err   error
}

func (p *recordingPublisher) PublishSaleCreated(_ context.Context, sale *Sale) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sales = append(p.sales, sale)
	return p.err
}

var (
	p1 = products.Snapshot{ID: 1, Name: "Coffee", Price: decimal.NewFromInt(1000), Quantity: 5}
	p2 = products.Snapshot{ID: 2, Name: "Tea", Price: decimal.RequireFromString("19.99"), Quantity: 1}

	employee = auth.Credential{Token: "tok-abc", UserID: 7, UserName: "alice", Role: auth.RoleEmployee}
	fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, storage Storage, gw *fakeGateway, opts Options) *Service {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return NewService(storage, gw, zaptest.NewLogger(t), opts)
}

func oneLine(id int64, qty int) CreateSaleRequest {
	return CreateSaleRequest{CustomerName: "Alice", Items: []LineRequest{{ProductID: id, Quantity: qty}}}
}

func requireProductError(t *testing.T, err error, kind error, productID int64) {
	t.Helper()
	require.ErrorIs(t, err, kind)
	var pe *ProductError
	require.True(t, errors.As(err, &pe), "expected *ProductError, got %T", err)
	assert.Equal(t, productID, pe.ProductID)
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(NewLocalStorage(), newFakeGateway(), zaptest.NewLogger(t), Options{})
	assert.Equal(t, PolicyBatched, svc.policy)
	assert.Equal(t, DefaultCallTimeout, svc.callTimeout)
	assert.NotNil(t, svc.now)
	assert.NotNil(t, svc.logger)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyBatched, p)

	p, err = ParsePolicy(" Per-Line ")
	require.NoError(t, err)
	assert.Equal(t, PolicyPerLine, p)

	_, err = ParsePolicy("best-effort")
	assert.Error(t, err)
}

// Inventory P1 (price 1000, stock 5); Alice buys 2.
func TestCreateSale_Succeeds(t *testing.T) {
	gw := newFakeGateway(p1)
	storage := NewLocalStorage()
	svc := newTestService(t, storage, gw, Options{})

	sale, err := svc.CreateSale(context.Background(), employee, oneLine(1, 2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), sale.ID)
	assert.Equal(t, fixedNow, sale.Date)
	assert.Equal(t, "Alice", sale.CustomerName)
	assert.Equal(t, int64(7), sale.UserID)
	assert.Equal(t, "alice", sale.UserName)
	assert.True(t, decimal.NewFromInt(2000).Equal(sale.TotalAmount), "total was %s", sale.TotalAmount)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, SaleItem{ProductID: 1, ProductName: "Coffee", Quantity: 2, UnitPrice: p1.Price}, sale.Items[0])
	assert.Equal(t, 3, gw.stock(1))

	all, err := svc.ListSales(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, sale.ID, all[0].ID)
}

func TestCreateSale_TotalIsExactDecimal(t *testing.T) {
	cheap := products.Snapshot{ID: 3, Name: "Candy", Price: decimal.RequireFromString("0.10"), Quantity: 100}
	gw := newFakeGateway(cheap, products.Snapshot{ID: 4, Name: "Book", Price: decimal.RequireFromString("19.99"), Quantity: 100})
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	sale, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "Carol",
		Items:        []LineRequest{{ProductID: 3, Quantity: 3}, {ProductID: 4, Quantity: 7}},
	})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, it := range sale.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	assert.True(t, sum.Equal(sale.TotalAmount))
	assert.Equal(t, "140.23", sale.TotalAmount.StringFixed(2))
}

func TestCreateSale_RoundsUnitPriceToLedgerScale(t *testing.T) {
	fine := products.Snapshot{ID: 3, Name: "Saffron", Price: decimal.RequireFromString("1.234567"), Quantity: 10}
	gw := newFakeGateway(fine)
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	sale, err := svc.CreateSale(context.Background(), employee, oneLine(3, 3))
	require.NoError(t, err)
	assert.Equal(t, "1.2346", sale.Items[0].UnitPrice.String())
	assert.Equal(t, "3.7038", sale.TotalAmount.String())
}

// Same inventory; Bob asks for 10.
func TestCreateSale_InsufficientStock(t *testing.T) {
	gw := newFakeGateway(p1)
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	sale, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "Bob",
		Items:        []LineRequest{{ProductID: 1, Quantity: 10}},
	})
	assert.Nil(t, sale)
	requireProductError(t, err, ErrInsufficientStock, 1)
	assert.Equal(t, 5, gw.stock(1))

	all, err := svc.ListSales(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateSale_InvalidRequestMakesNoCalls(t *testing.T) {
	cases := map[string]CreateSaleRequest{
		"empty items":        {CustomerName: "Alice", Items: []LineRequest{}},
		"nil items":          {CustomerName: "Alice"},
		"blank customer":     {CustomerName: "   ", Items: []LineRequest{{ProductID: 1, Quantity: 1}}},
		"zero quantity":      {CustomerName: "Alice", Items: []LineRequest{{ProductID: 1, Quantity: 0}}},
		"negative qty":       {CustomerName: "Alice", Items: []LineRequest{{ProductID: 1, Quantity: 1}, {ProductID: 1, Quantity: -2}}},
		"zero product id":    {CustomerName: "Alice", Items: []LineRequest{{ProductID: 0, Quantity: 1}}},
		"quantity above max": {CustomerName: "Alice", Items: []LineRequest{{ProductID: 1, Quantity: 1}, {ProductID: 1, Quantity: math.MaxInt}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			gw := newFakeGateway(p1)
			svc := newTestService(t, NewLocalStorage(), gw, Options{})

			_, err := svc.CreateSale(context.Background(), employee, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, 0, gw.calls())
		})
	}
}

func TestCreateSale_Unauthenticated(t *testing.T) {
	for name, cred := range map[string]auth.Credential{
		"no token": {UserID: 7, UserName: "alice"},
		"no user":  {Token: "tok"},
	} {
		t.Run(name, func(t *testing.T) {
			gw := newFakeGateway(p1)
			svc := newTestService(t, NewLocalStorage(), gw, Options{})

			_, err := svc.CreateSale(context.Background(), cred, oneLine(1, 1))
			assert.ErrorIs(t, err, ErrUnauthenticated)
			assert.Equal(t, 0, gw.calls())
		})
	}
}

func TestCreateSale_UnknownProductTouchesNoStock(t *testing.T) {
	gw := newFakeGateway(p1)
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	_, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "Alice",
		Items:        []LineRequest{{ProductID: 1, Quantity: 1}, {ProductID: 99, Quantity: 1}},
	})
	requireProductError(t, err, ErrUnknownProduct, 99)
	assert.Empty(t, gw.decrements)
	assert.Equal(t, 5, gw.stock(1))
}

func TestCreateSale_LookupTimesOut(t *testing.T) {
	gw := newFakeGateway(p1)
	gw.blockLookups = true
	storage := NewLocalStorage()
	svc := newTestService(t, storage, gw, Options{CallTimeout: 20 * time.Millisecond})

	_, err := svc.CreateSale(context.Background(), employee, oneLine(1, 1))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	all, _ := storage.GetAll(context.Background())
	assert.Empty(t, all)
	assert.Empty(t, gw.decrements)
}

func TestCreateSale_DecrementUnavailable(t *testing.T) {
	gw := newFakeGateway(p1)
	gw.decrementErr = products.ErrUnavailable
	storage := NewLocalStorage()
	svc := newTestService(t, storage, gw, Options{})

	_, err := svc.CreateSale(context.Background(), employee, oneLine(1, 1))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	all, _ := storage.GetAll(context.Background())
	assert.Empty(t, all)
}

func TestCreateSale_ProductVanishedBeforeDecrement(t *testing.T) {
	gw := newFakeGateway(p1)
	gw.decrementErr = &products.StockError{ProductID: 1, Err: products.ErrNotFound}
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	_, err := svc.CreateSale(context.Background(), employee, oneLine(1, 1))
	requireProductError(t, err, ErrUnknownProduct, 1)
}

func TestCreateSale_PersistenceFailed(t *testing.T) {
	gw := newFakeGateway(p1)
	storage := &failingStorage{LocalStorage: NewLocalStorage(), err: errors.New("disk full")}
	pub := &recordingPublisher{}
	svc := newTestService(t, storage, gw, Options{Publisher: pub})

	sale, err := svc.CreateSale(context.Background(), employee, oneLine(1, 2))
	assert.Nil(t, sale)
	assert.ErrorIs(t, err, ErrPersistenceFailed)
	assert.Equal(t, 3, gw.stock(1), "stock is not rolled back after a ledger failure")
	assert.Empty(t, pub.sales)
}

func TestCreateSale_ForwardsTokenOnEveryCall(t *testing.T) {
	gw := newFakeGateway(p1, p2)
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	_, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "Alice",
		Items:        []LineRequest{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Len(t, gw.tokens, 3)
	for _, tok := range gw.tokens {
		assert.Equal(t, employee.Token, tok)
	}
}

func TestCreateSale_BatchesDecrementAndDeduplicatesLookups(t *testing.T) {
	gw := newFakeGateway(p1)
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	sale, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "Alice",
		Items:        []LineRequest{{ProductID: 1, Quantity: 2}, {ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.lookups)
	require.Len(t, gw.decrements, 1)
	assert.Len(t, gw.decrements[0], 2)
	assert.Len(t, sale.Items, 2)
	assert.True(t, decimal.NewFromInt(3000).Equal(sale.TotalAmount))
	assert.Equal(t, 2, gw.stock(1))
}

func TestCreateSale_SnapshotsNameAndPrice(t *testing.T) {
	gw := newFakeGateway(p1)
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	_, err := svc.CreateSale(context.Background(), employee, oneLine(1, 1))
	require.NoError(t, err)

	gw.mu.Lock()
	renamed := gw.products[1]
	renamed.Name = "Espresso"
	renamed.Price = decimal.NewFromInt(5)
	gw.products[1] = renamed
	gw.mu.Unlock()

	all, err := svc.ListSales(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Coffee", all[0].Items[0].ProductName)
	assert.True(t, p1.Price.Equal(all[0].Items[0].UnitPrice))
}

func TestCreateSale_PerLineCompensates(t *testing.T) {
	gw := newFakeGateway(p1, p2)
	storage := NewLocalStorage()
	svc := newTestService(t, storage, gw, Options{Policy: PolicyPerLine})

	_, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "Alice",
		Items:        []LineRequest{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 5}},
	})
	requireProductError(t, err, ErrInsufficientStock, 2)

	assert.Len(t, gw.decrements, 2)
	require.Len(t, gw.increments, 1)
	assert.Equal(t, []products.StockRequest{{ProductID: 1, Quantity: 2}}, gw.increments[0])
	assert.Equal(t, 5, gw.stock(1))
	assert.Equal(t, 1, gw.stock(2))

	all, _ := storage.GetAll(context.Background())
	assert.Empty(t, all)
}

func TestCreateSale_PerLineCompensationFailureKeepsOriginalError(t *testing.T) {
	gw := newFakeGateway(p1, p2)
	gw.incrementErr = products.ErrUnavailable
	svc := newTestService(t, NewLocalStorage(), gw, Options{Policy: PolicyPerLine})

	_, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "Alice",
		Items:        []LineRequest{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 5}},
	})
	requireProductError(t, err, ErrInsufficientStock, 2)
	assert.Len(t, gw.increments, 1)
	assert.Equal(t, 3, gw.stock(1))
}

func TestCreateSale_PerLineSucceeds(t *testing.T) {
	gw := newFakeGateway(p1, p2)
	svc := newTestService(t, NewLocalStorage(), gw, Options{Policy: PolicyPerLine})

	sale, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "Alice",
		Items:        []LineRequest{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Len(t, gw.decrements, 2)
	assert.Empty(t, gw.increments)
	assert.Equal(t, "1019.99", sale.TotalAmount.String())
}

func TestCreateSale_PublishesAfterStore(t *testing.T) {
	gw := newFakeGateway(p1)
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newTestService(t, NewLocalStorage(), gw, Options{Publisher: pub})

	sale, err := svc.CreateSale(context.Background(), employee, oneLine(1, 1))
	require.NoError(t, err, "publish failures do not fail the commit")
	require.Len(t, pub.sales, 1)
	assert.Equal(t, sale.ID, pub.sales[0].ID)
}

func TestCreateSale_TrimsCustomerName(t *testing.T) {
	svc := newTestService(t, NewLocalStorage(), newFakeGateway(p1), Options{})

	sale, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
		CustomerName: "  Alice ",
		Items:        []LineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", sale.CustomerName)
}

func TestListSales_StableOrder(t *testing.T) {
	gw := newFakeGateway(products.Snapshot{ID: 1, Name: "Coffee", Price: decimal.NewFromInt(1), Quantity: 100})
	svc := newTestService(t, NewLocalStorage(), gw, Options{})

	for _, name := range []string{"A", "B", "C"} {
		_, err := svc.CreateSale(context.Background(), employee, CreateSaleRequest{
			CustomerName: name,
			Items:        []LineRequest{{ProductID: 1, Quantity: 1}},
		})
		require.NoError(t, err)
	}

	first, err := svc.ListSales(context.Background())
	require.NoError(t, err)
	second, err := svc.ListSales(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{first[0].CustomerName, first[1].CustomerName, first[2].CustomerName})
}

func TestGetSale(t *testing.T) {
	svc := newTestService(t, NewLocalStorage(), newFakeGateway(p1), Options{})
	created, err := svc.CreateSale(context.Background(), employee, oneLine(1, 1))
	require.NoError(t, err)

	got, err := svc.GetSale(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = svc.GetSale(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept for unit prices, matching the
// ledger's NUMERIC(18,4) columns.
const PriceScale = 4

// Sale represents a committed sales transaction. It is never modified after it is stored.
type Sale struct {
	ID           int64           `json:"id"`
	Date         time.Time       `json:"date"`
	CustomerName string          `json:"customerName"`
	UserID       int64           `json:"userId"`
	UserName     string          `json:"userName"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Items        []SaleItem      `json:"items"`
}

// SaleItem is a requested line after it was matched and priced against inventory.
// Name and price are copies taken at commit time.
type SaleItem struct {
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Subtotal returns unit price times quantity.
func (i SaleItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// LineRequest is one requested (product, quantity) pair.
type LineRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// CreateSaleRequest is the input of a sale commit.
type CreateSaleRequest struct {
	CustomerName string        `json:"customerName"`
	Items        []LineRequest `json:"items"`
}

// totalOf sums line subtotals.
func totalOf(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func (s *Sale) clone() *Sale {
	c := *s
	c.Items = append([]SaleItem(nil), s.Items...)
	return &c
}

package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresStorage stores sales in the sales and sale_items tables:
//
//	sales(id BIGSERIAL PRIMARY KEY, date TIMESTAMPTZ, customer_name TEXT,
//	      user_id BIGINT, user_name TEXT, total_amount NUMERIC(18,4))
//	sale_items(sale_id BIGINT REFERENCES sales(id), position INT, product_id BIGINT,
//	           product_name TEXT, quantity INT, unit_price NUMERIC(18,4),
//	           PRIMARY KEY (sale_id, position))
type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStorage creates a ledger on top of pool.
func NewPostgresStorage(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStorage{pool: pool, logger: logger}
}

// Append inserts the sale and its items in one transaction.
func (p *PostgresStorage) Append(ctx context.Context, sale *Sale) (*Sale, error) {
	if sale.ID != 0 {
		return nil, ErrAlreadyStored
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	stored := sale.clone()
	err = tx.QueryRow(ctx, `INSERT INTO sales (date, customer_name, user_id, user_name, total_amount)
		VALUES ($1, $2, $3, $4, $5::numeric) RETURNING id`,
		stored.Date, stored.CustomerName, stored.UserID, stored.UserName, stored.TotalAmount.String(),
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	batch := &pgx.Batch{}
	for i, it := range stored.Items {
		batch.Queue(`INSERT INTO sale_items (sale_id, position, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6::numeric)`,
			stored.ID, i, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert sale items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	p.logger.Debug("sale stored", zap.Int64("sale_id", stored.ID), zap.Int("items", len(stored.Items)))
	return stored, nil
}

// Read loads one sale with its items.
func (p *PostgresStorage) Read(ctx context.Context, id int64) (*Sale, error) {
	var s Sale
	var total string
	err := p.pool.QueryRow(ctx, `SELECT id, date, customer_name, user_id, user_name, total_amount::text
		FROM sales WHERE id = $1`, id).
		Scan(&s.ID, &s.Date, &s.CustomerName, &s.UserID, &s.UserName, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}

	items, err := p.items(ctx, `WHERE sale_id = $1`, id)
	if err != nil {
		return nil, err
	}
	s.Items = items[id]
	return &s, nil
}

// GetAll loads every sale ordered by ID.
func (p *PostgresStorage) GetAll(ctx context.Context) ([]*Sale, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, date, customer_name, user_id, user_name, total_amount::text
		FROM sales ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Sale, 0)
	for rows.Next() {
		var s Sale
		var total string
		if err := rows.Scan(&s.ID, &s.Date, &s.CustomerName, &s.UserID, &s.UserName, &total); err != nil {
			return nil, err
		}
		if s.TotalAmount, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := p.items(ctx, ``)
	if err != nil {
		return nil, err
	}
	for _, s := range out {
		s.Items = items[s.ID]
	}
	return out, nil
}

func (p *PostgresStorage) items(ctx context.Context, where string, args ...any) (map[int64][]SaleItem, error) {
	rows, err := p.pool.Query(ctx, `SELECT sale_id, product_id, product_name, quantity, unit_price::text
		FROM sale_items `+where+` ORDER BY sale_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]SaleItem{}
	for rows.Next() {
		var saleID int64
		var it SaleItem
		var price string
		if err := rows.Scan(&saleID, &it.ProductID, &it.ProductName, &it.Quantity, &price); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out[saleID] = append(out[saleID], it)
	}
	return out, rows.Err()
}

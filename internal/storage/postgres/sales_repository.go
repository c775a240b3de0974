package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

// SalesRepository is the append-only sales ledger.
type SalesRepository struct {
	pool *pgxpool.Pool
}

func NewSalesRepository(pool *pgxpool.Pool) *SalesRepository {
	return &SalesRepository{pool: pool}
}

// RecordSale inserts one ledger row per order. Recording the same order
// again is a no-op.
func (r *SalesRepository) RecordSale(ctx context.Context, sale domain.SaleRecord) error {
	const stmt = `
INSERT INTO sales (order_id, product_id, price, buyer_id, origin_id, admin_id, recorded_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
ON CONFLICT (order_id) DO NOTHING`

	_, err := conn(ctx, r.pool).Exec(ctx, stmt,
		sale.OrderID, sale.ProductID, sale.Price.String(), sale.BuyerID, sale.OriginID, sale.AdminID, sale.At,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrOrderNotFound
		}
		return storeError("record sale", err)
	}
	return nil
}

// ListSales returns sales recorded at or after since, oldest first.
func (r *SalesRepository) ListSales(ctx context.Context, since time.Time) ([]domain.SaleRecord, error) {
	const query = `
SELECT order_id::text, product_id, price::text, buyer_id, origin_id, admin_id, recorded_at
FROM sales
WHERE recorded_at >= $1
ORDER BY recorded_at ASC, order_id ASC`

	rows, err := conn(ctx, r.pool).Query(ctx, query, since)
	if err != nil {
		return nil, storeError("list sales", err)
	}
	defer rows.Close()

	var sales []domain.SaleRecord
	for rows.Next() {
		var s domain.SaleRecord
		var price string
		if err := rows.Scan(&s.OrderID, &s.ProductID, &price, &s.BuyerID, &s.OriginID, &s.AdminID, &s.At); err != nil {
			return nil, storeError("scan sale", err)
		}
		if s.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		s.At = s.At.UTC()
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate sales", err)
	}
	return sales, nil
}

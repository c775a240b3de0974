package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cimillas/fulfillment-desk/internal/codec"
	"github.com/cimillas/fulfillment-desk/internal/domain"
)

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const orderColumns = `id::text, product_id, product_name, price::text, buyer_id, buyer_name,
	origin_id, origin_name, artifact_ref, artifact_digest, payment_proof, status,
	rejection_reason, decided_by, decision_id, created_at, decided_at`

const insertOrder = `
INSERT INTO orders (id, product_id, product_name, price, buyer_id, buyer_name,
	origin_id, origin_name, artifact_ref, artifact_digest, payment_proof, status,
	rejection_reason, decided_by, decision_id, created_at, decided_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

func orderArgs(o domain.Order) []any {
	return []any{
		o.ID, o.ProductID, o.ProductName, o.Price.String(), o.Buyer.ID, o.Buyer.DisplayName,
		o.Origin.ID, o.Origin.DisplayName, o.ArtifactRef, o.ArtifactDigest, o.PaymentProof, string(o.Status),
		o.RejectionReason, o.DecidedBy, o.DecisionID, o.CreatedAt, o.DecidedAt,
	}
}

func (r *OrderRepository) Put(ctx context.Context, o domain.Order) error {
	const stmt = insertOrder + `
ON CONFLICT (id) DO UPDATE SET
	product_id = EXCLUDED.product_id,
	product_name = EXCLUDED.product_name,
	price = EXCLUDED.price,
	buyer_id = EXCLUDED.buyer_id,
	buyer_name = EXCLUDED.buyer_name,
	origin_id = EXCLUDED.origin_id,
	origin_name = EXCLUDED.origin_name,
	artifact_ref = EXCLUDED.artifact_ref,
	artifact_digest = EXCLUDED.artifact_digest,
	payment_proof = EXCLUDED.payment_proof,
	status = EXCLUDED.status,
	rejection_reason = EXCLUDED.rejection_reason,
	decided_by = EXCLUDED.decided_by,
	decision_id = EXCLUDED.decision_id,
	created_at = EXCLUDED.created_at,
	decided_at = EXCLUDED.decided_at`

	if _, err := conn(ctx, r.pool).Exec(ctx, stmt, orderArgs(o)...); err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return storeError("put order", err)
	}
	return nil
}

// Insert writes a new order and fails with domain.ErrDuplicateOrder when
// the id is taken.
func (r *OrderRepository) Insert(ctx context.Context, o domain.Order) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, insertOrder, orderArgs(o)...); err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.ErrDuplicateOrder
		case isInvalidUUID(err):
			return domain.ErrInvalidID
		}
		return storeError("insert order", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, storeError("get order", err)
	}
	return o, nil
}

// UpdateStatus performs the conditional write and appends the history row in
// one transaction. The row lock taken by the UPDATE serializes concurrent
// callers; whoever commits second sees zero rows affected.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, expected, next domain.OrderStatus, tr domain.Transition) error {
	detail, err := codec.EncodeDetail(tr.Detail)
	if err != nil {
		return err
	}

	return r.WithTx(ctx, func(txCtx context.Context) error {
		q := conn(txCtx, r.pool)

		reason := ""
		if next == domain.OrderStatusRejected {
			reason = tr.Reason
		}
		const update = `
UPDATE orders
SET status = $3, decision_id = $4, decided_by = $5, decided_at = $6,
	rejection_reason = CASE WHEN $7::text <> '' THEN $7::text ELSE rejection_reason END
WHERE id = $1 AND status = $2`
		tag, err := q.Exec(txCtx, update, id, string(expected), string(next), tr.DecisionID, tr.Actor, tr.At, reason)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			return storeError("update order status", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := q.QueryRow(txCtx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
				return storeError("check order", err)
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrStatusConflict
		}

		const insert = `
INSERT INTO order_history (order_id, seq, from_status, to_status, actor, reason, at, detail)
SELECT $1::uuid, COALESCE(MAX(seq), 0) + 1, $2::text, $3::text, $4::text, $5::text, $6::timestamptz, $7::bytea
FROM order_history WHERE order_id = $1::uuid`
		if _, err := q.Exec(txCtx, insert, id, string(expected), string(next), tr.Actor, tr.Reason, tr.At, detail); err != nil {
			return storeError("append order history", err)
		}
		return nil
	})
}

func (r *OrderRepository) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	const query = `
SELECT order_id::text, seq, from_status, to_status, actor, reason, at, detail
FROM order_history
WHERE order_id = $1
ORDER BY seq ASC`

	rows, err := conn(ctx, r.pool).Query(ctx, query, id)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, storeError("list order history", err)
	}
	defer rows.Close()

	var changes []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		var from, to string
		var detail []byte
		if err := rows.Scan(&c.OrderID, &c.Seq, &from, &to, &c.Actor, &c.Reason, &c.At, &detail); err != nil {
			return nil, storeError("scan order history", err)
		}
		c.From = domain.OrderStatus(from)
		c.To = domain.OrderStatus(to)
		c.At = c.At.UTC()
		if c.Detail, err = codec.DecodeDetail(detail); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate order history", err)
	}
	return changes, nil
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + `
FROM orders
WHERE status = $1
ORDER BY created_at ASC, id ASC
LIMIT NULLIF($2::bigint, 0)`

	rows, err := conn(ctx, r.pool).Query(ctx, query, string(status), max(limit, 0))
	if err != nil {
		return nil, storeError("list orders", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storeError("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate orders", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var price, status string
	var decidedAt *time.Time
	err := row.Scan(
		&o.ID, &o.ProductID, &o.ProductName, &price, &o.Buyer.ID, &o.Buyer.DisplayName,
		&o.Origin.ID, &o.Origin.DisplayName, &o.ArtifactRef, &o.ArtifactDigest, &o.PaymentProof, &status,
		&o.RejectionReason, &o.DecidedBy, &o.DecisionID, &o.CreatedAt, &decidedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	if decidedAt != nil {
		at := decidedAt.UTC()
		o.DecidedAt = &at
	}
	return o, nil
}

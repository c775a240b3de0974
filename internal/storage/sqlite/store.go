// Package sqlite is a single-host order store on an embedded SQLite file.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cimillas/fulfillment-desk/internal/codec"
	"github.com/cimillas/fulfillment-desk/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	product_name TEXT NOT NULL DEFAULT '',
	price TEXT NOT NULL,
	buyer_id TEXT NOT NULL,
	buyer_name TEXT NOT NULL DEFAULT '',
	origin_id TEXT NOT NULL DEFAULT '',
	origin_name TEXT NOT NULL DEFAULT '',
	artifact_ref TEXT NOT NULL DEFAULT '',
	artifact_digest TEXT NOT NULL DEFAULT '',
	payment_proof TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'delivered', 'rejected')),
	rejection_reason TEXT NOT NULL DEFAULT '',
	decided_by TEXT NOT NULL DEFAULT '',
	decision_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	decided_at INTEGER
);
CREATE INDEX IF NOT EXISTS orders_status_created_at_idx ON orders (status, created_at);

CREATE TABLE IF NOT EXISTS order_history (
	order_id TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	at INTEGER NOT NULL,
	detail BLOB,
	PRIMARY KEY (order_id, seq)
);

CREATE TABLE IF NOT EXISTS sales (
	order_id TEXT PRIMARY KEY REFERENCES orders (id) ON DELETE CASCADE,
	product_id TEXT NOT NULL,
	price TEXT NOT NULL,
	buyer_id TEXT NOT NULL,
	origin_id TEXT NOT NULL DEFAULT '',
	admin_id TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
`

type Config struct {
	// Path is the database file. Its directory must exist.
	Path     string
	PoolSize int
	Logger   *slog.Logger
}

type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the connection pool, applies connection pragmas and ensures
// the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite store: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", cfg.Path, err)
	}
	s := &Store{pool: pool, logger: logger, path: cfg.Path}

	conn, err := s.take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}

	logger.Info("sqlite_store_opened", "path", cfg.Path, "pool_size", poolSize)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite_store_closed", "path", s.path)
	return nil
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: take: %w: %w", domain.ErrPersistenceUnavailable, err)
	}
	return conn, nil
}

const orderColumns = `id, product_id, product_name, price, buyer_id, buyer_name,
	origin_id, origin_name, artifact_ref, artifact_digest, payment_proof, status,
	rejection_reason, decided_by, decision_id, created_at, decided_at`

const insertOrder = `
INSERT INTO orders (` + orderColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func orderArgs(o domain.Order) []any {
	return []any{
		o.ID, o.ProductID, o.ProductName, o.Price.String(), o.Buyer.ID, o.Buyer.DisplayName,
		o.Origin.ID, o.Origin.DisplayName, o.ArtifactRef, o.ArtifactDigest, o.PaymentProof, string(o.Status),
		o.RejectionReason, o.DecidedBy, o.DecisionID, o.CreatedAt.UnixNano(), nullableTime(o.DecidedAt),
	}
}

func (s *Store) Put(ctx context.Context, o domain.Order) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	const stmt = insertOrder + `
ON CONFLICT (id) DO UPDATE SET
	product_id = excluded.product_id,
	product_name = excluded.product_name,
	price = excluded.price,
	buyer_id = excluded.buyer_id,
	buyer_name = excluded.buyer_name,
	origin_id = excluded.origin_id,
	origin_name = excluded.origin_name,
	artifact_ref = excluded.artifact_ref,
	artifact_digest = excluded.artifact_digest,
	payment_proof = excluded.payment_proof,
	status = excluded.status,
	rejection_reason = excluded.rejection_reason,
	decided_by = excluded.decided_by,
	decision_id = excluded.decision_id,
	created_at = excluded.created_at,
	decided_at = excluded.decided_at`

	if err := sqlitex.Execute(conn, stmt, &sqlitex.ExecOptions{Args: orderArgs(o)}); err != nil {
		return fmt.Errorf("sqlite store: put order: %w", err)
	}
	return nil
}

// Insert writes a new order and fails with domain.ErrDuplicateOrder when
// the id is taken.
func (s *Store) Insert(ctx context.Context, o domain.Order) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, insertOrder, &sqlitex.ExecOptions{Args: orderArgs(o)}); err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintPrimaryKey {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("sqlite store: insert order: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Order, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer s.pool.Put(conn)
	return getOrder(conn, id)
}

func getOrder(conn *sqlite.Conn, id string) (domain.Order, error) {
	var (
		order domain.Order
		found bool
	)
	err := sqlitex.Execute(conn, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			o, err := scanOrder(stmt)
			if err != nil {
				return err
			}
			order, found = o, true
			return nil
		},
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("sqlite store: get order: %w", err)
	}
	if !found {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// UpdateStatus applies the conditional write and the history row inside one
// IMMEDIATE transaction, which takes the database write lock up front.
func (s *Store) UpdateStatus(ctx context.Context, id string, expected, next domain.OrderStatus, tr domain.Transition) (err error) {
	detail, err := codec.EncodeDetail(tr.Detail)
	if err != nil {
		return err
	}

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	reason := ""
	if next == domain.OrderStatusRejected {
		reason = tr.Reason
	}
	err = sqlitex.Execute(conn, `
UPDATE orders
SET status = ?, decision_id = ?, decided_by = ?, decided_at = ?,
	rejection_reason = CASE WHEN ? <> '' THEN ? ELSE rejection_reason END
WHERE id = ? AND status = ?`, &sqlitex.ExecOptions{
		Args: []any{string(next), tr.DecisionID, tr.Actor, tr.At.UnixNano(), reason, reason, id, string(expected)},
	})
	if err != nil {
		return fmt.Errorf("sqlite store: update order status: %w", err)
	}
	if conn.Changes() == 0 {
		if _, err = getOrder(conn, id); err != nil {
			return err
		}
		return domain.ErrStatusConflict
	}

	var detailArg any
	if detail != nil {
		detailArg = detail
	}
	err = sqlitex.Execute(conn, `
INSERT INTO order_history (order_id, seq, from_status, to_status, actor, reason, at, detail)
SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?
FROM order_history WHERE order_id = ?`, &sqlitex.ExecOptions{
		Args: []any{id, string(expected), string(next), tr.Actor, tr.Reason, tr.At.UnixNano(), detailArg, id},
	})
	if err != nil {
		return fmt.Errorf("sqlite store: append order history: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var changes []domain.StatusChange
	err = sqlitex.Execute(conn, `
SELECT order_id, seq, from_status, to_status, actor, reason, at, detail
FROM order_history WHERE order_id = ? ORDER BY seq ASC`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			c := domain.StatusChange{
				OrderID: stmt.ColumnText(0),
				Seq:     stmt.ColumnInt(1),
				From:    domain.OrderStatus(stmt.ColumnText(2)),
				To:      domain.OrderStatus(stmt.ColumnText(3)),
				Actor:   stmt.ColumnText(4),
				Reason:  stmt.ColumnText(5),
				At:      time.Unix(0, stmt.ColumnInt64(6)).UTC(),
			}
			if !stmt.ColumnIsNull(7) {
				buf := make([]byte, stmt.ColumnLen(7))
				stmt.ColumnBytes(7, buf)
				detail, err := codec.DecodeDetail(buf)
				if err != nil {
					return err
				}
				c.Detail = detail
			}
			changes = append(changes, c)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list order history: %w", err)
	}
	return changes, nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}
	var orders []domain.Order
	err = sqlitex.Execute(conn, `SELECT `+orderColumns+`
FROM orders WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{string(status), limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			o, err := scanOrder(stmt)
			if err != nil {
				return err
			}
			orders = append(orders, o)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list orders: %w", err)
	}
	return orders, nil
}

func (s *Store) RecordSale(ctx context.Context, sale domain.SaleRecord) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
INSERT INTO sales (order_id, product_id, price, buyer_id, origin_id, admin_id, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (order_id) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{sale.OrderID, sale.ProductID, sale.Price.String(), sale.BuyerID, sale.OriginID, sale.AdminID, sale.At.UnixNano()},
	})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintForeignKey {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("sqlite store: record sale: %w", err)
	}
	return nil
}

// ListSales returns sales recorded at or after since, oldest first.
func (s *Store) ListSales(ctx context.Context, since time.Time) ([]domain.SaleRecord, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var sales []domain.SaleRecord
	err = sqlitex.Execute(conn, `
SELECT order_id, product_id, price, buyer_id, origin_id, admin_id, recorded_at
FROM sales WHERE recorded_at >= ? ORDER BY recorded_at ASC, order_id ASC`, &sqlitex.ExecOptions{
		Args: []any{since.UnixNano()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			price, err := decimal.NewFromString(stmt.ColumnText(2))
			if err != nil {
				return err
			}
			sales = append(sales, domain.SaleRecord{
				OrderID:   stmt.ColumnText(0),
				ProductID: stmt.ColumnText(1),
				Price:     price,
				BuyerID:   stmt.ColumnText(3),
				OriginID:  stmt.ColumnText(4),
				AdminID:   stmt.ColumnText(5),
				At:        time.Unix(0, stmt.ColumnInt64(6)).UTC(),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list sales: %w", err)
	}
	return sales, nil
}

func scanOrder(stmt *sqlite.Stmt) (domain.Order, error) {
	price, err := decimal.NewFromString(stmt.ColumnText(3))
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse price: %w", err)
	}
	o := domain.Order{
		ID:              stmt.ColumnText(0),
		ProductID:       stmt.ColumnText(1),
		ProductName:     stmt.ColumnText(2),
		Price:           price,
		Buyer:           domain.Party{ID: stmt.ColumnText(4), DisplayName: stmt.ColumnText(5)},
		Origin:          domain.Party{ID: stmt.ColumnText(6), DisplayName: stmt.ColumnText(7)},
		ArtifactRef:     stmt.ColumnText(8),
		ArtifactDigest:  stmt.ColumnText(9),
		PaymentProof:    stmt.ColumnText(10),
		Status:          domain.OrderStatus(stmt.ColumnText(11)),
		RejectionReason: stmt.ColumnText(12),
		DecidedBy:       stmt.ColumnText(13),
		DecisionID:      stmt.ColumnText(14),
		CreatedAt:       time.Unix(0, stmt.ColumnInt64(15)).UTC(),
	}
	if !stmt.ColumnIsNull(16) {
		at := time.Unix(0, stmt.ColumnInt64(16)).UTC()
		o.DecidedAt = &at
	}
	return o, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

package app

import (
	"context"
	"time"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

// OrderStore is the durability boundary for orders. Every order's current
// status must be recoverable from the store alone.
type OrderStore interface {
	// Put upserts the full order state.
	Put(ctx context.Context, order domain.Order) error
	// Insert writes a new order, returning domain.ErrDuplicateOrder when the
	// id already exists.
	Insert(ctx context.Context, order domain.Order) error
	// Get returns domain.ErrOrderNotFound for unknown ids.
	Get(ctx context.Context, id string) (domain.Order, error)
	// UpdateStatus moves an order from expected to next only if its stored
	// status still equals expected, returning domain.ErrStatusConflict
	// otherwise. The history entry is appended in the same write.
	UpdateStatus(ctx context.Context, id string, expected, next domain.OrderStatus, tr domain.Transition) error
	History(ctx context.Context, id string) ([]domain.StatusChange, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)
	RecordSale(ctx context.Context, sale domain.SaleRecord) error
	// ListSales returns sales recorded at or after since, oldest first.
	ListSales(ctx context.Context, since time.Time) ([]domain.SaleRecord, error)
}

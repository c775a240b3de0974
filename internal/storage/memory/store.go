// Package memory is a process-local order store for development and tests.
// Nothing survives a restart.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

type Store struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	history map[string][]domain.StatusChange
	sales   []domain.SaleRecord
}

func New() *Store {
	return &Store{
		orders:  make(map[string]domain.Order),
		history: make(map[string][]domain.StatusChange),
	}
}

func (s *Store) Put(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

// Insert stores a new order, failing with domain.ErrDuplicateOrder when the
// id is taken.
func (s *Store) Insert(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return domain.ErrDuplicateOrder
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, expected, next domain.OrderStatus, tr domain.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != expected {
		return domain.ErrStatusConflict
	}
	s.orders[id] = tr.Apply(o, next)
	s.history[id] = append(s.history[id], domain.StatusChange{
		OrderID: id,
		Seq:     len(s.history[id]) + 1,
		From:    expected,
		To:      next,
		Actor:   tr.Actor,
		Reason:  tr.Reason,
		At:      tr.At,
		Detail:  maps.Clone(tr.Detail),
	})
	return nil
}

func (s *Store) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.history[id]
	out := make([]domain.StatusChange, len(src))
	for i, c := range src {
		c.Detail = maps.Clone(c.Detail)
		out[i] = c
	}
	return out, nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == status {
			out = append(out, cloneOrder(o))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordSale(ctx context.Context, sale domain.SaleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sales {
		if existing.OrderID == sale.OrderID {
			return nil
		}
	}
	s.sales = append(s.sales, sale)
	return nil
}

// ListSales returns sales recorded at or after since, oldest first.
func (s *Store) ListSales(ctx context.Context, since time.Time) ([]domain.SaleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SaleRecord
	for _, sale := range s.sales {
		if !sale.At.Before(since) {
			out = append(out, sale)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func cloneOrder(o domain.Order) domain.Order {
	if o.DecidedAt != nil {
		at := *o.DecidedAt
		o.DecidedAt = &at
	}
	return o
}

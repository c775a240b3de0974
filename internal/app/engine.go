package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimillas/fulfillment-desk/internal/clock"
	"github.com/cimillas/fulfillment-desk/internal/domain"
	"github.com/cimillas/fulfillment-desk/internal/notify"
)

// Notifier is the fan-out surface the engine drives.
type Notifier interface {
	NotifyAdmins(ctx context.Context, order domain.Order, actions []notify.Action) int
	NotifyBuyer(ctx context.Context, buyerID string, msg notify.Message) error
	NotifyAudience(ctx context.Context, audienceID string, msg notify.Message) int
}

// ArtifactReader loads packaged artifacts for delivery.
type ArtifactReader interface {
	Open(ref string) ([]byte, error)
	// Verify recomputes the artifact's digest and fails on a mismatch.
	Verify(a domain.Artifact) error
}

const (
	defaultUpdateTimeout  = 5 * time.Second
	defaultRecheckTimeout = 5 * time.Second
)

type EngineConfig struct {
	DeliveryLogAudience string
	SalesLogAudience    string
	// UpdateTimeout bounds the conditional status write.
	UpdateTimeout time.Duration
	// RecheckTimeout bounds the re-read that resolves an indeterminate write.
	RecheckTimeout time.Duration
}

// Engine owns the order lifecycle: Pending -> Delivered | Rejected.
//
// Per-order serialization comes from the store's conditional update; the
// engine holds no lock of its own, so transitions on different orders never
// wait on each other.
type Engine struct {
	store     OrderStore
	notifier  Notifier
	artifacts ArtifactReader
	proof     ProofPolicy
	clock     clock.Clock
	cfg       EngineConfig
	logger    *slog.Logger
	stats     engineStats
}

type engineStats struct {
	created              atomic.Int64
	delivered            atomic.Int64
	rejected             atomic.Int64
	lostRaces            atomic.Int64
	recovered            atomic.Int64
	notificationFailures atomic.Int64
}

// Stats is a snapshot of the engine's counters since start.
type Stats struct {
	Created              int64
	Delivered            int64
	Rejected             int64
	LostRaces            int64
	RecoveredWrites      int64
	NotificationFailures int64
}

func NewEngine(
	store OrderStore,
	notifier Notifier,
	artifacts ArtifactReader,
	proof ProofPolicy,
	clk clock.Clock,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = defaultUpdateTimeout
	}
	if cfg.RecheckTimeout <= 0 {
		cfg.RecheckTimeout = defaultRecheckTimeout
	}
	return &Engine{
		store:     store,
		notifier:  notifier,
		artifacts: artifacts,
		proof:     proof,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

type CreateOrderInput struct {
	// ID may be pre-generated so the artifact can be named after the order.
	ID             string
	ProductID      string
	ProductName    string
	Price          decimal.Decimal
	Buyer          domain.Party
	Origin         domain.Party
	ArtifactRef    string
	ArtifactDigest string
	PaymentProof   string
}

type CreateOrderResult struct {
	Order          domain.Order
	AdminsNotified int
}

// Create persists a new pending order and notifies every administrator.
// Nothing is written or sent when the payment proof is malformed.
func (e *Engine) Create(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	proof := strings.TrimSpace(in.PaymentProof)
	if !e.proof.Valid(proof) {
		return CreateOrderResult{}, domain.ErrInvalidProofFormat
	}

	id := in.ID
	if id == "" {
		id = newUUID()
	}

	order := domain.Order{
		ID:             id,
		ProductID:      in.ProductID,
		ProductName:    in.ProductName,
		Price:          in.Price,
		Buyer:          in.Buyer,
		Origin:         in.Origin,
		ArtifactRef:    in.ArtifactRef,
		ArtifactDigest: in.ArtifactDigest,
		PaymentProof:   proof,
		Status:         domain.OrderStatusPending,
		CreatedAt:      e.clock.Now(),
	}
	// A caller-supplied id may already exist; a freshly minted one cannot.
	if in.ID != "" {
		if err := e.store.Insert(ctx, order); err != nil {
			if errors.Is(err, domain.ErrDuplicateOrder) || errors.Is(err, domain.ErrInvalidID) {
				return CreateOrderResult{}, err
			}
			return CreateOrderResult{}, persistenceError("create order", err)
		}
	} else if err := e.store.Put(ctx, order); err != nil {
		return CreateOrderResult{}, persistenceError("create order", err)
	}
	e.stats.created.Add(1)

	notified := e.notifier.NotifyAdmins(context.WithoutCancel(ctx), order, notify.AdminActions(order.ID))
	e.logger.Info("order_created",
		"order_id", order.ID,
		"product_id", order.ProductID,
		"buyer_id", order.Buyer.ID,
		"admins_notified", notified,
	)
	return CreateOrderResult{Order: order, AdminsNotified: notified}, nil
}

type RejectInput struct {
	AdminID string
	Reason  string
	Detail  map[string]string
}

type RejectResult struct {
	Order         domain.Order
	BuyerNotified bool
	BuyerError    string
}

// Reject moves a pending order to rejected and tells the buyer why. A second
// call on a decided order fails with domain.ErrInvalidTransition.
func (e *Engine) Reject(ctx context.Context, orderID string, in RejectInput) (RejectResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return RejectResult{}, domain.ErrReasonRequired
	}

	order, err := e.transition(ctx, orderID, domain.OrderStatusRejected, domain.Transition{
		DecisionID: newUUID(),
		Actor:      in.AdminID,
		Reason:     reason,
		At:         e.clock.Now(),
		Detail:     in.Detail,
	})
	if err != nil {
		return RejectResult{}, err
	}
	e.stats.rejected.Add(1)

	effects := context.WithoutCancel(ctx)
	res := RejectResult{Order: order}
	if err := e.notifier.NotifyBuyer(effects, order.Buyer.ID, notify.RejectionNotice(order)); err != nil {
		e.stats.notificationFailures.Add(1)
		res.BuyerError = err.Error()
	} else {
		res.BuyerNotified = true
	}

	e.logger.Info("order_rejected",
		"order_id", order.ID,
		"admin_id", in.AdminID,
		"buyer_notified", res.BuyerNotified,
	)
	return res, nil
}

type DeliverInput struct {
	AdminID string
	Detail  map[string]string
}

type DeliverResult struct {
	Order               domain.Order
	BuyerNotified       bool
	BuyerError          string
	DeliveryLogNotified int
	SaleRecorded        bool
}

// Deliver moves a pending order to delivered, then sends the artifact to the
// buyer, broadcasts to the delivery log and records the sale. None of the
// follow-up steps can undo the committed status.
func (e *Engine) Deliver(ctx context.Context, orderID string, in DeliverInput) (DeliverResult, error) {
	order, err := e.transition(ctx, orderID, domain.OrderStatusDelivered, domain.Transition{
		DecisionID: newUUID(),
		Actor:      in.AdminID,
		At:         e.clock.Now(),
		Detail:     in.Detail,
	})
	if err != nil {
		return DeliverResult{}, err
	}
	e.stats.delivered.Add(1)

	effects := context.WithoutCancel(ctx)
	res := DeliverResult{Order: order}

	if err := e.sendArtifact(effects, order); err != nil {
		e.stats.notificationFailures.Add(1)
		res.BuyerError = err.Error()
	} else {
		res.BuyerNotified = true
	}

	if e.cfg.DeliveryLogAudience != "" {
		res.DeliveryLogNotified = e.notifier.NotifyAudience(effects, e.cfg.DeliveryLogAudience,
			notify.DeliveryLogEntry(order, in.AdminID, res.BuyerNotified))
	}

	res.SaleRecorded = e.recordSale(effects, order, in.AdminID)

	e.logger.Info("order_delivered",
		"order_id", order.ID,
		"admin_id", in.AdminID,
		"buyer_notified", res.BuyerNotified,
		"delivery_log_notified", res.DeliveryLogNotified,
		"sale_recorded", res.SaleRecorded,
	)
	return res, nil
}

func (e *Engine) sendArtifact(ctx context.Context, order domain.Order) error {
	if err := e.artifacts.Verify(domain.Artifact{Ref: order.ArtifactRef, Digest: order.ArtifactDigest}); err != nil {
		e.logger.Error("artifact_verification_failed", "order_id", order.ID, "ref", order.ArtifactRef, "error", err)
		return &domain.NotificationFailure{Recipient: order.Buyer.ID, Err: err}
	}
	data, err := e.artifacts.Open(order.ArtifactRef)
	if err != nil {
		e.logger.Error("artifact_unavailable", "order_id", order.ID, "ref", order.ArtifactRef, "error", err)
		return &domain.NotificationFailure{Recipient: order.Buyer.ID, Err: err}
	}
	attachment := &notify.Attachment{
		Name:   filepath.Base(order.ArtifactRef),
		Data:   data,
		Digest: order.ArtifactDigest,
	}
	return e.notifier.NotifyBuyer(ctx, order.Buyer.ID, notify.DeliveryNotice(order, attachment))
}

func (e *Engine) recordSale(ctx context.Context, order domain.Order, adminID string) bool {
	sale := domain.SaleRecord{
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Price:     order.Price,
		BuyerID:   order.Buyer.ID,
		OriginID:  order.Origin.ID,
		AdminID:   adminID,
		At:        e.clock.Now(),
	}
	if e.cfg.SalesLogAudience != "" {
		e.notifier.NotifyAudience(ctx, e.cfg.SalesLogAudience, notify.SaleEntry(sale, order.ProductName))
	}
	if err := e.store.RecordSale(ctx, sale); err != nil {
		e.logger.Error("sale_record_failed", "order_id", order.ID, "error", err)
		return false
	}
	e.logger.Info("sale_recorded",
		"order_id", sale.OrderID,
		"product_id", sale.ProductID,
		"price", sale.Price.String(),
		"buyer_id", sale.BuyerID,
		"origin_id", sale.OriginID,
		"admin_id", sale.AdminID,
	)
	return true
}

// transition performs the checked, conditional status write. Only the
// caller whose write lands gets a nil error back.
func (e *Engine) transition(ctx context.Context, id string, to domain.OrderStatus, tr domain.Transition) (domain.Order, error) {
	current, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrInvalidID) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, persistenceError("load order", err)
	}
	if !domain.CanTransition(current.Status, to) {
		return domain.Order{}, domain.ErrInvalidTransition
	}

	updateCtx, cancel := context.WithTimeout(ctx, e.cfg.UpdateTimeout)
	err = e.store.UpdateStatus(updateCtx, id, current.Status, to, tr)
	cancel()

	switch {
	case err == nil:
		return tr.Apply(current, to), nil
	case errors.Is(err, domain.ErrStatusConflict):
		e.stats.lostRaces.Add(1)
		e.logger.Info("transition_lost_race", "order_id", id, "target", to, "actor", tr.Actor)
		return domain.Order{}, domain.ErrInvalidTransition
	case errors.Is(err, domain.ErrOrderNotFound):
		return domain.Order{}, domain.ErrOrderNotFound
	default:
		return e.resolveIndeterminate(ctx, id, to, tr, err)
	}
}

// resolveIndeterminate re-reads an order after a status write whose outcome
// is unknown. The write is never retried: if it landed, its decision id is
// on the record.
func (e *Engine) resolveIndeterminate(ctx context.Context, id string, to domain.OrderStatus, tr domain.Transition, cause error) (domain.Order, error) {
	e.logger.Warn("status_update_indeterminate", "order_id", id, "target", to, "error", cause)

	recheckCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RecheckTimeout)
	defer cancel()

	stored, err := e.store.Get(recheckCtx, id)
	if err != nil {
		return domain.Order{}, persistenceError("update status", errors.Join(cause, err))
	}
	switch {
	case stored.Status == to && stored.DecisionID == tr.DecisionID:
		e.stats.recovered.Add(1)
		e.logger.Info("status_update_recovered", "order_id", id, "status", to)
		return stored, nil
	case stored.Status.Terminal():
		e.stats.lostRaces.Add(1)
		return domain.Order{}, domain.ErrInvalidTransition
	default:
		return domain.Order{}, persistenceError("update status", cause)
	}
}

// Get returns a single order.
func (e *Engine) Get(ctx context.Context, id string) (domain.Order, error) {
	order, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrInvalidID) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, persistenceError("load order", err)
	}
	return order, nil
}

// History returns the order's status changes, oldest first.
func (e *Engine) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	changes, err := e.store.History(ctx, id)
	if err != nil {
		return nil, persistenceError("load history", err)
	}
	return changes, nil
}

// ListByStatus returns up to limit orders in the given status, oldest first.
func (e *Engine) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	orders, err := e.store.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, persistenceError("list orders", err)
	}
	return orders, nil
}

// ListSales returns the sales ledger from since onwards, oldest first.
func (e *Engine) ListSales(ctx context.Context, since time.Time) ([]domain.SaleRecord, error) {
	sales, err := e.store.ListSales(ctx, since)
	if err != nil {
		return nil, persistenceError("list sales", err)
	}
	return sales, nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		Created:              e.stats.created.Load(),
		Delivered:            e.stats.delivered.Load(),
		Rejected:             e.stats.rejected.Load(),
		LostRaces:            e.stats.lostRaces.Load(),
		RecoveredWrites:      e.stats.recovered.Load(),
		NotificationFailures: e.stats.notificationFailures.Load(),
	}
}

func persistenceError(op string, err error) error {
	if errors.Is(err, domain.ErrPersistenceUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistenceUnavailable, err)
}

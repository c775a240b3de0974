package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusDelivered, OrderStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusRejected
}

// Party identifies a buyer or the community an order was placed from.
type Party struct {
	ID          string
	DisplayName string
}

// Order is one buyer's request for one catalog item.
type Order struct {
	ID              string
	ProductID       string
	ProductName     string
	Price           decimal.Decimal
	Buyer           Party
	Origin          Party
	ArtifactRef     string
	ArtifactDigest  string
	PaymentProof    string
	Status          OrderStatus
	RejectionReason string
	DecidedBy       string
	// DecisionID is written together with the terminal status so a caller
	// whose conditional update timed out can tell whether its write landed.
	DecisionID string
	CreatedAt  time.Time
	DecidedAt  *time.Time
}

// StatusChange is one entry of an order's append-only status history.
type StatusChange struct {
	OrderID string
	Seq     int
	From    OrderStatus
	To      OrderStatus
	Actor   string
	Reason  string
	At      time.Time
	Detail  map[string]string
}

// SaleRecord is emitted to the sales ledger when an order is delivered.
type SaleRecord struct {
	OrderID   string
	ProductID string
	Price     decimal.Decimal
	BuyerID   string
	OriginID  string
	AdminID   string
	At        time.Time
}

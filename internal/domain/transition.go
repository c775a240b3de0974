package domain

import "time"

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusDelivered, OrderStatusRejected},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition carries the fields written together with a conditional status
// update.
type Transition struct {
	DecisionID string
	Actor      string
	Reason     string
	At         time.Time
	Detail     map[string]string
}

// Apply returns a copy of o moved to status to with the transition fields set.
func (t Transition) Apply(o Order, to OrderStatus) Order {
	o.Status = to
	o.DecisionID = t.DecisionID
	o.DecidedBy = t.Actor
	at := t.At
	o.DecidedAt = &at
	if to == OrderStatusRejected {
		o.RejectionReason = t.Reason
	}
	return o
}

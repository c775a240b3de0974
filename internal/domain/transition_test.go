package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		from, to OrderStatus
		allowed  bool
	}{
		"pending to delivered":   {OrderStatusPending, OrderStatusDelivered, true},
		"pending to rejected":    {OrderStatusPending, OrderStatusRejected, true},
		"pending to pending":     {OrderStatusPending, OrderStatusPending, false},
		"delivered to rejected":  {OrderStatusDelivered, OrderStatusRejected, false},
		"rejected to delivered":  {OrderStatusRejected, OrderStatusDelivered, false},
		"delivered to delivered": {OrderStatusDelivered, OrderStatusDelivered, false},
		"unknown to delivered":   {OrderStatus("shipped"), OrderStatusDelivered, false},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))
		})
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, OrderStatusPending.Terminal())
	assert.True(t, OrderStatusDelivered.Terminal())
	assert.True(t, OrderStatusRejected.Terminal())
	assert.False(t, OrderStatus("").Valid())
}

func TestTransition_Apply(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := Transition{DecisionID: "d-1", Actor: "admin-1", Reason: "proof expired", At: at}
	order := Order{ID: "o-1", Status: OrderStatusPending}

	rejected := tr.Apply(order, OrderStatusRejected)
	assert.Equal(t, OrderStatusRejected, rejected.Status)
	assert.Equal(t, "proof expired", rejected.RejectionReason)
	assert.Equal(t, "d-1", rejected.DecisionID)
	assert.Equal(t, "admin-1", rejected.DecidedBy)
	assert.Equal(t, at, *rejected.DecidedAt)
	assert.Equal(t, OrderStatusPending, order.Status, "original must be untouched")

	delivered := tr.Apply(order, OrderStatusDelivered)
	assert.Empty(t, delivered.RejectionReason)
}

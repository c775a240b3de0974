package notify

import (
	"fmt"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

const (
	ActionReject  = "reject"
	ActionDeliver = "deliver"
)

// AdminActions returns the controls offered to administrators for a
// pending order.
func AdminActions(orderID string) []Action {
	return []Action{
		{ID: ActionReject + ":" + orderID, Label: "Reject"},
		{ID: ActionDeliver + ":" + orderID, Label: "Deliver"},
	}
}

// OrderSummary renders the administrator notification for a new order.
func OrderSummary(order domain.Order, actions []Action) Message {
	return Message{
		Title: fmt.Sprintf("New purchase request: %s", order.ProductName),
		Fields: []Field{
			{Name: "Order", Value: order.ID},
			{Name: "Price", Value: order.Price.StringFixed(2)},
			{Name: "Buyer", Value: fmt.Sprintf("%s (%s)", order.Buyer.DisplayName, order.Buyer.ID)},
			{Name: "Origin", Value: fmt.Sprintf("%s (%s)", order.Origin.DisplayName, order.Origin.ID)},
			{Name: "Payment proof", Value: order.PaymentProof},
		},
		Actions: actions,
		Footer:  "Confirm the payment before pressing Deliver.",
	}
}

// RejectionNotice tells the buyer their order was rejected and why.
func RejectionNotice(order domain.Order) Message {
	return Message{
		Title: fmt.Sprintf("Your order for %s was rejected", order.ProductName),
		Body:  order.RejectionReason,
		Fields: []Field{
			{Name: "Order", Value: order.ID},
		},
	}
}

// DeliveryNotice carries the packaged artifact to the buyer.
func DeliveryNotice(order domain.Order, attachment *Attachment) Message {
	return Message{
		Title: fmt.Sprintf("Your order for %s has been delivered", order.ProductName),
		Fields: []Field{
			{Name: "Order", Value: order.ID},
			{Name: "Digest", Value: order.ArtifactDigest},
		},
		Attachment: attachment,
	}
}

// DeliveryLogEntry is broadcast to the delivery-log audience.
func DeliveryLogEntry(order domain.Order, adminID string, buyerNotified bool) Message {
	status := "sent"
	if !buyerNotified {
		status = "failed"
	}
	return Message{
		Title: fmt.Sprintf("Delivered %s", order.ProductName),
		Fields: []Field{
			{Name: "Order", Value: order.ID},
			{Name: "Buyer", Value: fmt.Sprintf("%s (%s)", order.Buyer.DisplayName, order.Buyer.ID)},
			{Name: "Price", Value: order.Price.StringFixed(2)},
			{Name: "Admin", Value: adminID},
			{Name: "Buyer message", Value: status},
		},
	}
}

// SaleEntry is broadcast to the sales-log audience.
func SaleEntry(sale domain.SaleRecord, productName string) Message {
	return Message{
		Title: fmt.Sprintf("Sale: %s", productName),
		Fields: []Field{
			{Name: "Order", Value: sale.OrderID},
			{Name: "Price", Value: sale.Price.StringFixed(2)},
			{Name: "Buyer", Value: sale.BuyerID},
			{Name: "Origin", Value: sale.OriginID},
			{Name: "Admin", Value: sale.AdminID},
		},
	}
}

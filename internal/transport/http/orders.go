package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cimillas/fulfillment-desk/internal/app"
	"github.com/cimillas/fulfillment-desk/internal/domain"
)

// OrderSubmitter accepts buyer purchase requests.
type OrderSubmitter interface {
	Submit(ctx context.Context, in app.SubmitInput) (app.CreateOrderResult, error)
}

// OrderReader loads a single order.
type OrderReader interface {
	Get(ctx context.Context, id string) (domain.Order, error)
}

type createOrderRequest struct {
	ProductID    string `json:"product_id"`
	BuyerID      string `json:"buyer_id"`
	BuyerName    string `json:"buyer_name"`
	OriginID     string `json:"origin_id"`
	OriginName   string `json:"origin_name"`
	PaymentProof string `json:"payment_proof"`
}

func (r createOrderRequest) missingField() string {
	switch {
	case strings.TrimSpace(r.ProductID) == "":
		return "product_id"
	case strings.TrimSpace(r.BuyerID) == "":
		return "buyer_id"
	case strings.TrimSpace(r.PaymentProof) == "":
		return "payment_proof"
	}
	return ""
}

type orderResponse struct {
	ID              string     `json:"id"`
	ProductID       string     `json:"product_id"`
	ProductName     string     `json:"product_name"`
	Price           string     `json:"price"`
	BuyerID         string     `json:"buyer_id"`
	OriginID        string     `json:"origin_id,omitempty"`
	Status          string     `json:"status"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	ArtifactDigest  string     `json:"artifact_digest,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
}

func newOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		ProductID:       o.ProductID,
		ProductName:     o.ProductName,
		Price:           o.Price.StringFixed(2),
		BuyerID:         o.Buyer.ID,
		OriginID:        o.Origin.ID,
		Status:          string(o.Status),
		RejectionReason: o.RejectionReason,
		DecidedBy:       o.DecidedBy,
		ArtifactDigest:  o.ArtifactDigest,
		CreatedAt:       o.CreatedAt,
		DecidedAt:       o.DecidedAt,
	}
}

type createOrderResponse struct {
	Order          orderResponse `json:"order"`
	AdminsNotified int           `json:"admins_notified"`
}

// HandleCreateOrder accepts a buyer's "buy" submission.
func HandleCreateOrder(svc OrderSubmitter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if field := req.missingField(); field != "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, field+" is required")
			return
		}

		res, err := svc.Submit(r.Context(), app.SubmitInput{
			ProductID:    req.ProductID,
			Buyer:        domain.Party{ID: req.BuyerID, DisplayName: req.BuyerName},
			Origin:       domain.Party{ID: req.OriginID, DisplayName: req.OriginName},
			PaymentProof: req.PaymentProof,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, createOrderResponse{
			Order:          newOrderResponse(res.Order),
			AdminsNotified: res.AdminsNotified,
		})
	}
}

// HandleGetOrder returns the current state of one order.
func HandleGetOrder(svc OrderReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}

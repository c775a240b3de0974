package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/cimillas/fulfillment-desk/internal/app"
	"github.com/cimillas/fulfillment-desk/internal/domain"
)

const (
	maxUploadMemory   = 32 << 20
	defaultListLimit  = 50
	maxListLimit      = 500
	uploadFormField   = "files"
	maxDecisionReason = 2000
)

// AdminService is the authorized administrator surface.
type AdminService interface {
	Reject(ctx context.Context, adminID, orderID, reason string) (app.RejectResult, error)
	Deliver(ctx context.Context, adminID, orderID string) (app.DeliverResult, error)
	ListOrders(ctx context.Context, adminID string, status domain.OrderStatus, limit int) ([]domain.Order, error)
	History(ctx context.Context, adminID, orderID string) ([]domain.StatusChange, error)
	UploadSources(ctx context.Context, adminID, productID string, files []app.SourceUpload) ([]string, error)
	ListSales(ctx context.Context, adminID string, since time.Time) ([]domain.SaleRecord, error)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type rejectResponse struct {
	Order         orderResponse `json:"order"`
	BuyerNotified bool          `json:"buyer_notified"`
	BuyerError    string        `json:"buyer_error,omitempty"`
}

type deliverResponse struct {
	Order               orderResponse `json:"order"`
	BuyerNotified       bool          `json:"buyer_notified"`
	BuyerError          string        `json:"buyer_error,omitempty"`
	DeliveryLogNotified int           `json:"delivery_log_notified"`
	SaleRecorded        bool          `json:"sale_recorded"`
}

type historyEntryResponse struct {
	Seq    int               `json:"seq"`
	From   string            `json:"from"`
	To     string            `json:"to"`
	Actor  string            `json:"actor"`
	Reason string            `json:"reason,omitempty"`
	At     time.Time         `json:"at"`
	Detail map[string]string `json:"detail,omitempty"`
}

type saleResponse struct {
	OrderID   string    `json:"order_id"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	BuyerID   string    `json:"buyer_id"`
	OriginID  string    `json:"origin_id,omitempty"`
	AdminID   string    `json:"admin_id"`
	At        time.Time `json:"at"`
}

type uploadResponse struct {
	ProductID string `json:"product_id"`
	Files     int    `json:"files"`
}

// AdminHandlers serves the administrator routes. Every handler expects the
// admin id to have been placed in the context by AdminAuth.
type AdminHandlers struct {
	svc    AdminService
	logger *slog.Logger
}

func NewAdminHandlers(svc AdminService, logger *slog.Logger) *AdminHandlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AdminHandlers{svc: svc, logger: logger}
}

func (h *AdminHandlers) Reject(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}

	var req rejectRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	if len(req.Reason) > maxDecisionReason {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "reason is too long")
		return
	}

	res, err := h.svc.Reject(r.Context(), adminID, r.PathValue("id"), req.Reason)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rejectResponse{
		Order:         newOrderResponse(res.Order),
		BuyerNotified: res.BuyerNotified,
		BuyerError:    res.BuyerError,
	})
}

func (h *AdminHandlers) Deliver(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}

	res, err := h.svc.Deliver(r.Context(), adminID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deliverResponse{
		Order:               newOrderResponse(res.Order),
		BuyerNotified:       res.BuyerNotified,
		BuyerError:          res.BuyerError,
		DeliveryLogNotified: res.DeliveryLogNotified,
		SaleRecorded:        res.SaleRecorded,
	})
}

func (h *AdminHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}

	status := domain.OrderStatusPending
	if s := r.URL.Query().Get("status"); s != "" {
		status = domain.OrderStatus(s)
	}
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	orders, err := h.svc.ListOrders(r.Context(), adminID, status, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandlers) History(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}

	changes, err := h.svc.History(r.Context(), adminID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := make([]historyEntryResponse, 0, len(changes))
	for _, c := range changes {
		resp = append(resp, historyEntryResponse{
			Seq:    c.Seq,
			From:   string(c.From),
			To:     string(c.To),
			Actor:  c.Actor,
			Reason: c.Reason,
			At:     c.At,
			Detail: c.Detail,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSales returns the sales ledger, optionally from an RFC 3339 "since"
// timestamp onwards.
func (h *AdminHandlers) ListSales(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	sales, err := h.svc.ListSales(r.Context(), adminID, since)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := make([]saleResponse, 0, len(sales))
	for _, s := range sales {
		resp = append(resp, saleResponse{
			OrderID:   s.OrderID,
			ProductID: s.ProductID,
			Price:     s.Price.String(),
			BuyerID:   s.BuyerID,
			OriginID:  s.OriginID,
			AdminID:   s.AdminID,
			At:        s.At,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadSources accepts a multipart form whose "files" parts become the
// offer's new source files.
func (h *AdminHandlers) UploadSources(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File[uploadFormField]
	uploads := make([]app.SourceUpload, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "unreadable upload")
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, app.SourceUpload{Name: fh.Filename, Body: f})
	}

	productID := r.PathValue("id")
	paths, err := h.svc.UploadSources(r.Context(), adminID, productID, uploads)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{ProductID: productID, Files: len(paths)})
}

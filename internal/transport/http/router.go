package http

import (
	"log/slog"
	"net/http"
)

type RouterDeps struct {
	Catalog     ProductCatalog
	Orders      OrderSubmitter
	OrderReader OrderReader
	Admin       AdminService
	Auth        *AdminAuth
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter wires every route behind CORS and request logging.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	admin := NewAdminHandlers(deps.Admin, logger)
	protect := deps.Auth.Handler

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", LivenessHandler)
	mux.HandleFunc("GET /health", HealthHandler)
	mux.Handle("GET /products", HandleListProducts(deps.Catalog, logger))
	mux.Handle("GET /products/{id}/availability", HandleAvailability(deps.Catalog, logger))
	mux.Handle("POST /orders", HandleCreateOrder(deps.Orders, logger))
	mux.Handle("GET /orders/{id}", HandleGetOrder(deps.OrderReader, logger))

	mux.Handle("POST /admin/products/{id}/sources", protect(http.HandlerFunc(admin.UploadSources)))
	mux.Handle("GET /admin/orders", protect(http.HandlerFunc(admin.ListOrders)))
	mux.Handle("GET /admin/orders/{id}/history", protect(http.HandlerFunc(admin.History)))
	mux.Handle("POST /admin/orders/{id}/reject", protect(http.HandlerFunc(admin.Reject)))
	mux.Handle("POST /admin/orders/{id}/deliver", protect(http.HandlerFunc(admin.Deliver)))
	mux.Handle("GET /admin/sales", protect(http.HandlerFunc(admin.ListSales)))
	mux.Handle("/", NotFoundHandler())

	return RequestLogger(CORS(deps.CORSOrigins, mux), logger)
}

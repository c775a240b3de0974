package http

import (
	"log/slog"
	"net/http"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

// ProductCatalog is the read side of the catalog exposed to buyers.
type ProductCatalog interface {
	List() []domain.Product
	Available(id string) (bool, error)
}

type productResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Price       string `json:"price"`
	Available   bool   `json:"available"`
}

type availabilityResponse struct {
	ProductID string `json:"product_id"`
	Available bool   `json:"available"`
}

// HandleListProducts renders the offer panel. Availability follows the
// same rule as the per-product availability check.
func HandleListProducts(catalog ProductCatalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products := catalog.List()
		resp := make([]productResponse, 0, len(products))
		for _, p := range products {
			available, err := catalog.Available(p.ID)
			if err != nil {
				logger.Warn("availability_check_failed", "product_id", p.ID, "error", err)
			}
			resp = append(resp, productResponse{
				ID:          p.ID,
				DisplayName: p.DisplayName,
				Price:       p.Price.StringFixed(2),
				Available:   available,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleAvailability answers the "check availability" action for one offer.
func HandleAvailability(catalog ProductCatalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		available, err := catalog.Available(id)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, availabilityResponse{ProductID: id, Available: available})
	}
}

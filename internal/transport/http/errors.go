package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

const (
	codeNotFound               = "not_found"
	codeInvalidRequestBody     = "invalid_request_body"
	codeMissingRequiredField   = "missing_required_field"
	codeInvalidID              = "invalid_id"
	codeInvalidStatus          = "invalid_status"
	codeInvalidProofFormat     = "invalid_proof_format"
	codeReasonRequired         = "reason_required"
	codeNoSourceFiles          = "no_source_files"
	codeOrderNotFound          = "order_not_found"
	codeProductNotFound        = "product_not_found"
	codeInvalidTransition      = "invalid_transition"
	codeDuplicateOrder         = "duplicate_order"
	codeUnauthorized           = "unauthorized"
	codeForbidden              = "forbidden"
	codePersistenceUnavailable = "persistence_unavailable"
	codeInternalError          = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// domainErrors maps sentinel errors to HTTP responses. Order matters: the
// first match wins.
var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidProofFormat, http.StatusBadRequest, codeInvalidProofFormat},
	{domain.ErrReasonRequired, http.StatusBadRequest, codeReasonRequired},
	{domain.ErrInvalidID, http.StatusBadRequest, codeInvalidID},
	{domain.ErrInvalidStatus, http.StatusBadRequest, codeInvalidStatus},
	{domain.ErrNoSourceFiles, http.StatusBadRequest, codeNoSourceFiles},
	{domain.ErrOrderNotFound, http.StatusNotFound, codeOrderNotFound},
	{domain.ErrProductNotFound, http.StatusNotFound, codeProductNotFound},
	{domain.ErrInvalidTransition, http.StatusConflict, codeInvalidTransition},
	{domain.ErrDuplicateOrder, http.StatusConflict, codeDuplicateOrder},
	{domain.ErrForbidden, http.StatusForbidden, codeForbidden},
	{domain.ErrPersistenceUnavailable, http.StatusServiceUnavailable, codePersistenceUnavailable},
}

// writeDomainError renders err using the sentinel table. Anything unmapped
// is logged and reported as a 500 without leaking its text.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				logger.Error("request_failed", "path", r.URL.Path, "error", err)
			}
			writeError(w, m.status, m.code, m.err.Error())
			return
		}
	}
	logger.Error("request_failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

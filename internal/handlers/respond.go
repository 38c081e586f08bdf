package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/sky940714/shophub/internal/observability"
	"github.com/sky940714/shophub/internal/services"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Category  string `json:"category,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RawDetail string `json:"raw_detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// writeError maps the service error taxonomy onto HTTP statuses. Anything
// unrecognized is logged and hidden behind a 500.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	logger := h.loggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Info("request rejected", "status", status, "error", err)
	}

	observability.MeterFromContext(r.Context()).Count(
		"http.server.rejected",
		1,
		sentry.WithAttributes(attribute.Int("http.status_code", status)),
	)
	h.writeJSON(w, r, status, body)
}

func errorStatus(err error) (int, errorResponse) {
	var (
		validationErr *services.ValidationError
		stockErr      *services.InsufficientStockError
		gatewayErr    *services.GatewayError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorResponse{Error: validationErr.Error(), Field: validationErr.Field}
	case errors.As(err, &stockErr):
		return http.StatusConflict, errorResponse{Error: stockErr.Error()}
	case errors.As(err, &gatewayErr):
		return http.StatusBadGateway, errorResponse{
			Error:     gatewayErr.Message,
			Category:  gatewayErr.Category,
			Detail:    gatewayErr.Detail,
			RawDetail: gatewayErr.Raw,
			Retryable: gatewayErr.Retryable,
		}
	case errors.Is(err, services.ErrAlreadyCreated):
		return http.StatusConflict, errorResponse{Error: "shipment already created for this order"}
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "order not found"}
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "status"}
	case errors.Is(err, services.ErrIntegrity):
		return http.StatusBadRequest, errorResponse{Error: "integrity check failed"}
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &services.ValidationError{Field: "body", Message: "is too large"}
		case errors.Is(err, io.EOF):
			return &services.ValidationError{Field: "body", Message: "is required"}
		default:
			return &services.ValidationError{Field: "body", Message: fmt.Sprintf("is not valid JSON: %v", err)}
		}
	}
	return nil
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &services.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return n, nil
}

// firstNonEmpty lets endpoints accept both the snake_case and the legacy
// camelCase spelling of a parameter.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

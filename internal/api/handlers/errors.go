package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/pyportal/internal/api/middleware"
	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/felixgeelhaar/pyportal/internal/gateway"
)

// maxBodyBytes bounds request bodies; it leaves room for JSON escaping
// around the largest accepted submission.
const maxBodyBytes = 1 << 20

// Response is the JSON envelope for every non-execution endpoint
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON writes v as JSON with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteData writes a success envelope
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{Success: true, Data: data})
}

// WriteError writes a failure envelope and logs it with request context
func WriteError(w http.ResponseWriter, r *http.Request, status int, message string, details any) {
	attrs := []any{
		"status", status,
		"error", message,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetRequestID(r.Context()),
	}
	if status >= 500 {
		slog.Error("api error", attrs...)
	} else {
		slog.Warn("api error", attrs...)
	}
	WriteJSON(w, status, Response{Success: false, Error: message, Details: details})
}

// StatusFor maps a domain error to its HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrCodeTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError writes err with the status StatusFor picks. Internal
// errors are logged in full but reported with a generic message.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("internal error",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()))
		WriteError(w, r, status, "Internal server error", nil)
		return
	}

	var details any
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		details = map[string]string{"field": ve.Field, "reason": ve.Reason}
	}
	WriteError(w, r, status, err.Error(), details)
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", gateway.ErrCodeTooLarge, tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "is required")
		}
		return domain.NewValidationError("body", "invalid JSON")
	}
	return nil
}

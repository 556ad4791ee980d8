// Package httpserver contains HTTP handlers and middleware for the
// client-facing stock intelligence API.
//
// It adapts domain services (stock data, news, market overview, alerts,
// workflows, WebSocket fan-out) onto REST + JSON routes, translating
// domain errors into the status codes and envelopes clients expect.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mclima/stock-intel-service/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to an HTTP status + JSON envelope per the
// error taxonomy: Validation/SchemaInvalid->400/422, Authentication->401,
// NotFound->404, Conflict->409, RateLimited->429, CircuitOpen/Unavailable->
// 503, everything else->500.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := strings.ToUpper(string(domain.CodeInternal))

	var svcErr *domain.ServiceError
	if errors.As(err, &svcErr) {
		codeStr = strings.ToUpper(string(svcErr.Code))
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		code, codeStr = http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrSchemaInvalid):
		code, codeStr = http.StatusUnprocessableEntity, "SCHEMA_INVALID"
	case errors.Is(err, domain.ErrAuthentication):
		code, codeStr = http.StatusUnauthorized, "AUTHENTICATION"
	case errors.Is(err, domain.ErrNotFound):
		code, codeStr = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code, codeStr = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		code, codeStr = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrCircuitOpen):
		code, codeStr = http.StatusServiceUnavailable, "CIRCUIT_OPEN"
	case errors.Is(err, domain.ErrUnavailable):
		code, codeStr = http.StatusServiceUnavailable, "UNAVAILABLE"
	}

	msg := err.Error()
	if svcErr != nil && svcErr.UserMessage != "" {
		msg = svcErr.UserMessage
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: msg, Details: details}})
}

// writeValidationError maps a failed ValidationResult to a 400 response.
func writeValidationError(w http.ResponseWriter, res ValidationResult) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{
		Code:    "VALIDATION",
		Message: "validation failed",
		Details: res.Errors,
	}})
}

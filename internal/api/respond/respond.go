// Package respond writes the JSON envelopes shared by every handler.
package respond

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// JSON writes payload with the given status. Encoding failures are
// swallowed after the header is out; there is nothing useful left to send.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// OK writes a success envelope around payload fields.
func OK(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	JSON(w, status, body)
}

// Error maps err into the error envelope:
//
//	{"success": false, "message": "...", "error_code": "...", ...context}
//
// Internal causes are logged, never serialized.
func Error(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if logger == nil {
		logger = logging.Default()
	}
	ae := apperror.From(err)

	if ae.Kind == apperror.KindInternal {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}

	body := map[string]any{
		"success":    false,
		"message":    ae.Message,
		"error_code": ae.Code,
	}
	if len(ae.Fields) > 0 {
		body["errors"] = ae.Fields
	}
	for k, v := range ae.Meta {
		body[k] = v
	}

	status := StatusFor(ae.Kind)
	if ae.Kind == apperror.KindRateLimited {
		if secs, ok := ae.Meta["retry_after"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	JSON(w, status, body)
}

// StatusFor maps taxonomy kinds onto HTTP statuses.
func StatusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindBadInput:
		return http.StatusBadRequest
	case apperror.KindUnauthorized, apperror.KindInvalidCredentials:
		return http.StatusUnauthorized
	case apperror.KindEmailNotVerified, apperror.KindAccountLocked,
		apperror.KindAccountDeactivated, apperror.KindForbidden:
		return http.StatusForbidden
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON parses a JSON request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apperror.BadInput("invalid JSON body").WithCause(err)
	}
	return nil
}

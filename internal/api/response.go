package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/engine"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error engine.Rejection `json:"error"`
}

// writeError maps err onto its status code and the rejection envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rej := engine.Reject(err)
	status := rej.Kind.HTTPStatus()
	if rej.Kind == apperr.KindTransient {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", rej.Code, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: rej})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, "invalid JSON: %s", err)
	}
	return nil
}

func badRequest(format string, args ...any) error {
	return apperr.Validation(apperr.CodeInvalidInput, "%s", fmt.Sprintf(format, args...))
}

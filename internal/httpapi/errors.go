package httpapi

import (
	"encoding/json"
	"net/http"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/audit"
	"tenantgov.org/internal/obs"
)

type errorBody struct {
	Error     string            `json:"error"`
	Code      apperr.Code       `json:"code,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// writeAppError renders a kernel error. Unclassified errors never leak their text.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	body := errorBody{
		Error:     err.Error(),
		Code:      code,
		Metadata:  apperr.MetadataOf(err),
		RequestID: audit.RequestIDFromContext(r.Context()),
	}
	switch code {
	case apperr.CodeUnknown:
		obs.Logger().Error("request_failed", "request_id", body.RequestID, "path", r.URL.Path, "err", err)
		body.Error = "internal error"
	case apperr.CodeUnavailable:
		obs.Logger().Warn("request_unavailable", "request_id", body.RequestID, "path", r.URL.Path, "err", err)
		body.Error = "service temporarily unavailable"
		w.Header().Set("Retry-After", "1")
	case apperr.CodeUnauthenticated:
		w.Header().Set("WWW-Authenticate", `Bearer realm="tenantgov"`)
	}
	writeJSON(w, status, body)
}

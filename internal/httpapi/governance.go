package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"tenantgov.org/internal/apperr"
	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/governance"
	"tenantgov.org/internal/tenant"
)

const idempotencyHeader = "Idempotency-Key"

// AppendEntry seals a business record onto the caller's chain.
func (a *API) AppendEntry(w http.ResponseWriter, r *http.Request) {
	sc, tid, ok := a.scope(w, r)
	if !ok {
		return
	}
	var req governance.AppendRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeAppError(w, r, apperr.InvalidArgument("invalid JSON body"))
		return
	}
	req.Tenant = tid
	req.Key = r.Header.Get(idempotencyHeader)

	entry, err := a.gov.Append(r.Context(), sc, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// VerifyChain recomputes the caller's chain and reports every broken entry.
func (a *API) VerifyChain(w http.ResponseWriter, r *http.Request) {
	sc, tid, ok := a.scope(w, r)
	if !ok {
		return
	}
	res, err := a.gov.Verify(r.Context(), sc, tid)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) Quota(w http.ResponseWriter, r *http.Request) {
	sc, tid, ok := a.scope(w, r)
	if !ok {
		return
	}
	view, err := a.gov.Quota(r.Context(), sc, tid, r.PathValue("key"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// scope resolves the caller and the tenant named in the path.
func (a *API) scope(w http.ResponseWriter, r *http.Request) (auth.SecurityContext, tenant.ID, bool) {
	sc, err := auth.RequireSecurity(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return auth.SecurityContext{}, 0, false
	}
	tid, err := tenant.ParseID(r.PathValue("tenant"))
	if err != nil {
		writeAppError(w, r, err)
		return auth.SecurityContext{}, 0, false
	}
	return sc, tid, true
}

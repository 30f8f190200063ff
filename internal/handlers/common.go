// Package handlers exposes the engine over a JSON HTTP API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/iorran/superfriday/internal/auth"
	"github.com/iorran/superfriday/internal/httpx"
	"github.com/iorran/superfriday/internal/mail"
	"github.com/iorran/superfriday/internal/services"
)

// requireUser resolves the authenticated tenant or answers 401.
func requireUser(w http.ResponseWriter, r *http.Request) (uint, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok || uid == 0 {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return 0, false
	}
	return uid, true
}

// idFromQuery reads the ?id= parameter.
func idFromQuery(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// writeServiceError translates domain errors to HTTP. Guard refusals are
// conflicts the caller can resolve and retry; transport failures are
// upstream problems.
func writeServiceError(w http.ResponseWriter, err error) {
	var v *services.ValidationError
	var g *services.GuardError
	var ae *mail.AuthError
	var te *mail.TransientError
	switch {
	case errors.Is(err, services.ErrNotFound):
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
	case errors.As(err, &v):
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed",
			map[string]string{"field": v.Field, "reason": v.Reason})
	case errors.As(err, &g):
		details := map[string]any{"role": g.Role}
		if g.SuggestedAmount != nil {
			details["suggested_amount"] = *g.SuggestedAmount
		}
		httpx.JSONError(w, http.StatusConflict, string(g.Reason), details)
	case errors.Is(err, mail.ErrNoTransportConfigured):
		httpx.JSONError(w, http.StatusConflict, "no_transport_configured", nil)
	case errors.As(err, &ae):
		httpx.JSONError(w, http.StatusBadGateway, "transport_auth_failed",
			map[string]string{"provider": string(ae.Provider), "hint": ae.Hint})
	case errors.As(err, &te):
		httpx.JSONError(w, http.StatusBadGateway, "transport_unavailable", nil)
	default:
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

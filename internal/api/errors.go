package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/access"
	"github.com/wolfeidau/brandpilot/internal/auth"
	"github.com/wolfeidau/brandpilot/internal/billing"
	"github.com/wolfeidau/brandpilot/internal/store"
)

var (
	// ErrReconciliationUnauthorized is returned when the scheduler secret is missing or wrong.
	ErrReconciliationUnauthorized = errors.New("reconciliation unauthorized")

	errInvalidWorkspaceID = errors.New("invalid workspace id")
	errUnknownFeature     = errors.New("unknown feature")
	errInvalidBody        = errors.New("invalid request body")
	errBillingDisabled    = errors.New("billing events disabled")
	errNoWorkspace        = errors.New("no workspace")
)

type errorResponse struct {
	Error string `json:"error"`
}

type quotaExceededResponse struct {
	Error string `json:"error"`
	Plan  string `json:"plan"`
	Limit int    `json:"limit"`
	Used  int    `json:"used"`
}

type featureNotAvailableResponse struct {
	Error        string `json:"error"`
	Feature      string `json:"feature"`
	Plan         string `json:"plan"`
	RequiredPlan string `json:"required_plan"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps err onto the client-visible error taxonomy. Anything
// unrecognised is logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		quotaErr   *billing.QuotaExceededError
		featureErr *billing.FeatureNotAvailableError
	)

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		auth.WriteUnauthenticated(w, r)
	case errors.Is(err, access.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, quotaExceededResponse{
			Error: "quota_exceeded",
			Plan:  string(quotaErr.Tier),
			Limit: quotaErr.Limit,
			Used:  quotaErr.Used,
		})
	case errors.As(err, &featureErr):
		writeJSON(w, http.StatusForbidden, featureNotAvailableResponse{
			Error:        "feature_not_available",
			Feature:      string(featureErr.Feature),
			Plan:         string(featureErr.Tier),
			RequiredPlan: string(featureErr.RequiredTier),
		})
	case errors.Is(err, ErrReconciliationUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, errBillingDisabled):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, errUnknownFeature), errors.Is(err, errNoWorkspace),
		errors.Is(err, store.ErrSubscriptionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, errInvalidWorkspaceID), errors.Is(err, errInvalidBody),
		errors.Is(err, billing.ErrInvalidAmount), errors.Is(err, billing.ErrUnknownEventType):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, billing.ErrInvalidPlanChange), errors.Is(err, store.ErrStaleBillingEvent):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

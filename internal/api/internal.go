package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/billing"
	httpmiddleware "github.com/wolfeidau/brandpilot/internal/http"
)

type reconcileResponse struct {
	Downgraded int `json:"downgraded"`
}

// reconcileHandler runs one reconciliation sweep for the external scheduler.
// A bad or missing secret fails the call before any sweep runs.
func (s *Server) reconcileHandler() http.Handler {
	reject := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Warn().Str("addr", r.RemoteAddr).Msg("Rejected reconciliation trigger")
		writeError(w, r, ErrReconciliationUnauthorized)
	})

	if s.cfg.CronSecret == "" {
		log.Warn().Msg("No cron secret configured, reconciliation trigger is open")
	}

	sweep := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := s.Reconciler.ReconcileExpired(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("reconciliation failed after %d downgrades: %w", n, err))
			return
		}
		writeJSON(w, http.StatusOK, reconcileResponse{Downgraded: n})
	})

	return httpmiddleware.RequireSharedSecret(CronSecretHeader, s.cfg.CronSecret, reject)(sweep)
}

type subscriptionEventResponse struct {
	WorkspaceID string `json:"workspace_id"`
	PlanTier    string `json:"plan_tier"`
	Status      string `json:"status"`
}

// billingEventsHandler applies facts reported by the billing collaborator.
// It is disabled unless a billing secret is configured.
func (s *Server) billingEventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.BillingSecret == "" {
			writeError(w, r, errBillingDisabled)
			return
		}
		if !httpmiddleware.SecretMatches(r, BillingSecretHeader, s.cfg.BillingSecret) {
			log.Warn().Str("addr", r.RemoteAddr).Msg("Rejected billing event")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}

		var ev billing.Event
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&ev); err != nil {
			writeError(w, r, fmt.Errorf("%w: %w", errInvalidBody, err))
			return
		}

		sub, err := s.Subscriptions.Apply(r.Context(), ev)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, subscriptionEventResponse{
			WorkspaceID: sub.WorkspaceID.String(),
			PlanTier:    string(sub.PlanTier),
			Status:      string(sub.Status),
		})
	})
}

package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/access"
	"github.com/wolfeidau/brandpilot/internal/auth"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// workspaceHandlerFunc handles a request whose caller has been authorized in the workspace.
type workspaceHandlerFunc func(w http.ResponseWriter, r *http.Request, m *models.Membership) error

// workspace authorizes the caller against the {workspaceID} path value before
// running fn. The membership is read fresh on every request.
func (s *Server) workspace(allowed access.RoleSet, fn workspaceHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workspaceID, err := uuid.Parse(r.PathValue("workspaceID"))
		if err != nil {
			writeError(w, r, errInvalidWorkspaceID)
			return
		}

		userID, err := auth.UserIDFromContext(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}

		m, err := s.Authorizer.AssertAccess(r.Context(), userID, workspaceID, allowed)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := fn(w, r, m); err != nil {
			writeError(w, r, err)
		}
	})
}

type workspaceResponse struct {
	WorkspaceID uuid.UUID   `json:"workspace_id"`
	Name        string      `json:"name"`
	Role        models.Role `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
}

func newWorkspaceResponse(m *models.Membership) workspaceResponse {
	return workspaceResponse{
		WorkspaceID: m.WorkspaceID,
		Name:        m.WorkspaceName,
		Role:        m.Role,
		CreatedAt:   m.WorkspaceCreatedAt,
	}
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	ms, err := s.Directory.MembershipsFor(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]workspaceResponse, 0, len(ms))
	for _, m := range ms {
		if !m.Role.Valid() {
			continue
		}
		out = append(out, newWorkspaceResponse(m))
	}

	writeJSON(w, http.StatusOK, map[string]any{"workspaces": out})
}

func (s *Server) defaultWorkspace(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	m, err := s.Directory.DefaultWorkspace(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			err = errNoWorkspace
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newWorkspaceResponse(m))
}

type subscriptionResponse struct {
	WorkspaceID      uuid.UUID                 `json:"workspace_id"`
	PlanTier         plans.Tier                `json:"plan_tier"`
	Status           models.SubscriptionStatus `json:"status"`
	State            models.SubscriptionState  `json:"state"`
	CurrentPeriodEnd *time.Time                `json:"current_period_end,omitempty"`
	EffectivePlan    plans.Plan                `json:"effective_plan"`
	Usage            usageResponse             `json:"usage"`
}

type usageResponse struct {
	CycleStart      time.Time `json:"cycle_start"`
	GenerationsUsed int       `json:"generations_used"`
	Limit           int       `json:"limit"`
	Remaining       int       `json:"remaining"`
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request, m *models.Membership) error {
	usage, err := s.Quota.Usage(r.Context(), m.WorkspaceID)
	if err != nil {
		return err
	}

	sub := usage.Subscription
	writeJSON(w, http.StatusOK, subscriptionResponse{
		WorkspaceID:      m.WorkspaceID,
		PlanTier:         sub.PlanTier,
		Status:           sub.Status,
		State:            usage.State,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		EffectivePlan:    usage.Plan,
		Usage: usageResponse{
			CycleStart:      usage.CycleStart,
			GenerationsUsed: usage.Used,
			Limit:           usage.Limit,
			Remaining:       usage.Remaining(),
		},
	})
	return nil
}

type generationsRequest struct {
	Amount *int `json:"amount,omitempty"`
}

type generationsResponse struct {
	WorkspaceID     uuid.UUID `json:"workspace_id"`
	CycleStart      time.Time `json:"cycle_start"`
	GenerationsUsed int       `json:"generations_used"`
}

// consumeGenerations records generations against the quota. An empty body
// consumes one.
func (s *Server) consumeGenerations(w http.ResponseWriter, r *http.Request, m *models.Membership) error {
	var req generationsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}

	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}

	counter, err := s.Quota.TryConsume(r.Context(), m.WorkspaceID, amount)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, generationsResponse{
		WorkspaceID:     counter.WorkspaceID,
		CycleStart:      counter.CycleStart,
		GenerationsUsed: counter.GenerationsUsed,
	})
	return nil
}

func (s *Server) checkFeature(w http.ResponseWriter, r *http.Request, m *models.Membership) error {
	feature, err := plans.ParseFeature(r.PathValue("feature"))
	if err != nil {
		return errUnknownFeature
	}

	if err := s.Quota.RequireFeature(r.Context(), m.WorkspaceID, feature); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{"feature": feature, "available": true})
	return nil
}

// exportUsage writes the workspace's usage cycles as CSV, newest first.
func (s *Server) exportUsage(w http.ResponseWriter, r *http.Request, m *models.Membership) error {
	if err := s.Quota.RequireFeature(r.Context(), m.WorkspaceID, plans.FeatureBulkExport); err != nil {
		return err
	}

	counters, err := s.Quota.History(r.Context(), m.WorkspaceID)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="usage-%s.csv"`, m.WorkspaceID))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"cycle_start", "generations_used"})
	for _, c := range counters {
		_ = cw.Write([]string{c.CycleStart.UTC().Format(time.RFC3339), strconv.Itoa(c.GenerationsUsed)})
	}
	cw.Flush()

	if err := cw.Error(); err != nil {
		// Headers are already written; nothing left to tell the client.
		log.Error().Err(err).Str("workspace_id", m.WorkspaceID.String()).Msg("Failed to write usage export")
	}
	return nil
}

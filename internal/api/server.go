// Package api exposes the tenant, directory and operator HTTP endpoints.
//
// Tenant endpoints follow the same path on every request: resolve the
// principal, assert the caller's role in the workspace named by the URL,
// then run the operation against the workspace's effective plan.
package api

import (
	"fmt"
	"net/http"

	"github.com/wolfeidau/brandpilot/internal/access"
	"github.com/wolfeidau/brandpilot/internal/auth"
	"github.com/wolfeidau/brandpilot/internal/billing"
	"github.com/wolfeidau/brandpilot/internal/plans"
)

const (
	// CronSecretHeader carries the scheduler's shared secret.
	CronSecretHeader = "x-cron-secret"
	// BillingSecretHeader carries the billing collaborator's shared secret.
	BillingSecretHeader = "x-billing-secret"
)

// Config holds the operator secrets. An empty CronSecret leaves the
// reconcile trigger open; an empty BillingSecret disables billing events.
type Config struct {
	CronSecret    string
	BillingSecret string
}

// Services are the domain components the API drives.
type Services struct {
	Resolver      auth.Resolver
	Authorizer    *access.Authorizer
	Directory     *access.Directory
	Subscriptions *billing.Subscriptions
	Quota         *billing.QuotaGate
	Reconciler    *billing.Reconciler
	Plans         *plans.Registry
}

// Server serves the HTTP API.
type Server struct {
	Services
	cfg       Config
	planTable *planTable
}

// NewServer creates the API server.
func NewServer(services Services, cfg Config) (*Server, error) {
	table, err := newPlanTable(services.Plans)
	if err != nil {
		return nil, fmt.Errorf("failed to build plan table: %w", err)
	}

	return &Server{
		Services:  services,
		cfg:       cfg,
		planTable: table,
	}, nil
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("GET /api/plans", s.planTable)

	// Operator endpoints are authenticated by shared secret, not by principal.
	mux.Handle("POST /internal/reconcile", s.reconcileHandler())
	mux.Handle("POST /internal/billing/events", s.billingEventsHandler())

	requirePrincipal := auth.RequirePrincipal(s.Resolver)

	mux.Handle("GET /api/me/workspaces", requirePrincipal(http.HandlerFunc(s.listWorkspaces)))
	mux.Handle("GET /api/me/default-workspace", requirePrincipal(http.HandlerFunc(s.defaultWorkspace)))

	mux.Handle("GET /api/workspaces/{workspaceID}/subscription",
		requirePrincipal(s.workspace(access.AnyRole, s.getSubscription)))
	mux.Handle("POST /api/workspaces/{workspaceID}/generations",
		requirePrincipal(s.workspace(access.AnyRole, s.consumeGenerations)))
	mux.Handle("GET /api/workspaces/{workspaceID}/features/{feature}",
		requirePrincipal(s.workspace(access.AnyRole, s.checkFeature)))
	mux.Handle("GET /api/workspaces/{workspaceID}/usage/export",
		requirePrincipal(s.workspace(access.OwnerOrAdmin, s.exportUsage)))
}

package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// state is shared by every in-memory store so multi-entity writes (workspace
// provisioning) and conditional updates happen under one lock.
type state struct {
	mu sync.RWMutex

	users         map[uuid.UUID]*models.User                       // user_id -> User
	usersByEmail  map[string]uuid.UUID                             // email -> user_id
	sessions      map[uuid.UUID]*models.Session                    // session_id -> Session
	workspaces    map[uuid.UUID]*models.Workspace                  // workspace_id -> Workspace
	memberships   map[membershipKey]*models.Membership             // (user, workspace) -> Membership
	subscriptions map[uuid.UUID]*models.Subscription               // workspace_id -> Subscription
	usage         map[uuid.UUID]map[time.Time]*models.UsageCounter // workspace_id -> cycle -> counter

	now func() time.Time
}

type membershipKey struct {
	userID      uuid.UUID
	workspaceID uuid.UUID
}

// Option configures the in-memory stores.
type Option func(*state)

// WithClock overrides the clock used for timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *state) {
		s.now = now
	}
}

// NewStores creates a full set of in-memory stores over shared state.
// This implementation is for testing and local development only - data is lost on restart.
func NewStores(opts ...Option) store.Stores {
	s := &state{
		users:         make(map[uuid.UUID]*models.User),
		usersByEmail:  make(map[string]uuid.UUID),
		sessions:      make(map[uuid.UUID]*models.Session),
		workspaces:    make(map[uuid.UUID]*models.Workspace),
		memberships:   make(map[membershipKey]*models.Membership),
		subscriptions: make(map[uuid.UUID]*models.Subscription),
		usage:         make(map[uuid.UUID]map[time.Time]*models.UsageCounter),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return store.Stores{
		Users:         &UserStore{s},
		Sessions:      &SessionStore{s},
		Workspaces:    &WorkspaceStore{s},
		Memberships:   &MembershipStore{s},
		Subscriptions: &SubscriptionStore{s},
		Usage:         &UsageStore{s},
	}
}

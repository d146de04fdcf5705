package login

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/auth"
	httpmiddleware "github.com/wolfeidau/brandpilot/internal/http"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	stateCookieName = "state"
	githubAPIURL    = "https://api.github.com"
)

// Stores holds the stores used by the login flow.
type Stores struct {
	Users       store.UserStore
	Sessions    store.SessionStore
	Memberships store.MembershipStore
}

// Provisioner creates a workspace, with its owner membership and free
// subscription, for a user signing in for the first time.
type Provisioner interface {
	Provision(ctx context.Context, name string, ownerID uuid.UUID) (*models.Workspace, error)
}

// Github signs users in with GitHub OAuth and issues server-side sessions.
type Github struct {
	config      *oauth2.Config
	stores      Stores
	provisioner Provisioner
	sessionTTL  time.Duration
	apiBaseURL  string
	now         func() time.Time
}

// Option configures a Github login.
type Option func(*Github)

// WithEndpoint overrides the GitHub OAuth endpoint and API base URL.
func WithEndpoint(endpoint oauth2.Endpoint, apiBaseURL string) Option {
	return func(g *Github) {
		g.config.Endpoint = endpoint
		g.apiBaseURL = strings.TrimSuffix(apiBaseURL, "/")
	}
}

// WithClock sets the clock used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Github) {
		g.now = now
	}
}

func NewGithub(clientID, clientSecret, callbackURL string, stores Stores, provisioner Provisioner, sessionTTL time.Duration, opts ...Option) (*Github, error) {
	if clientID == "" || clientSecret == "" || callbackURL == "" {
		return nil, fmt.Errorf("client ID, client secret, and callback URL are required")
	}

	if stores.Users == nil || stores.Sessions == nil || stores.Memberships == nil || provisioner == nil {
		return nil, fmt.Errorf("all stores and a provisioner are required")
	}

	if sessionTTL <= 0 {
		return nil, fmt.Errorf("session TTL must be greater than 0")
	}

	g := &Github{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
		stores:      stores,
		provisioner: provisioner,
		sessionTTL:  sessionTTL,
		apiBaseURL:  githubAPIURL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *Github) saveState(w http.ResponseWriter, r *http.Request) string {
	// generate random state
	state := rand.Text()

	cookie := &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes - enough time for OAuth flow
	}
	http.SetCookie(w, cookie)

	return state
}

func (g *Github) LoginHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("Initiating GitHub OAuth flow")

	state := g.saveState(w, r)

	// redirect to github
	http.Redirect(w, r, g.config.AuthCodeURL(state), http.StatusFound)
}

func (g *Github) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("OAuth callback received")

	state := r.FormValue("state")
	code := r.FormValue("code")

	if state == "" || code == "" {
		log.Warn().Msg("OAuth callback missing state or code")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		log.Warn().Err(err).Msg("OAuth callback missing state cookie")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if state != cookie.Value {
		log.Warn().Msg("OAuth callback state mismatch")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	// Clear the state cookie after validation
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	ctx := r.Context()

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to exchange OAuth code for token")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	userInfo, err := g.getUserInfo(ctx, token)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch user info from GitHub")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if userInfo.Email == "" {
		log.Warn().Str("login", userInfo.Login).Msg("GitHub user info missing email address")
		http.Error(w, "Email address required", http.StatusBadRequest)
		return
	}

	user, err := g.getOrCreateUser(ctx, userInfo)
	if err != nil {
		log.Error().Err(err).Msg("Failed to provision user")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	session, err := g.createSession(ctx, user.UserID, r)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.UserID.String()).Msg("Failed to create session")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("user_id", user.UserID.String()).
		Str("session_id", session.SessionID.String()).
		Msg("User signed in")

	// Only the opaque session ID goes in the cookie.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    session.SessionID.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(g.sessionTTL.Seconds()),
	})

	http.Redirect(w, r, "/", http.StatusFound)
}

// LogoutHandler deletes the server-side session and clears the cookie.
func (g *Github) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil {
		if sessionID, err := uuid.Parse(cookie.Value); err == nil {
			if err := g.stores.Sessions.Delete(r.Context(), sessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
				log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to delete session")
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusFound)
}

// getOrCreateUser finds the user by email, creating the user and a first
// workspace on first sign in. A user left without any workspace, for example
// by a failed earlier sign in, is given one.
func (g *Github) getOrCreateUser(ctx context.Context, info *UserInfo) (*models.User, error) {
	email, err := models.NormalizeEmail(info.Email)
	if err != nil {
		return nil, err
	}

	user, err := g.stores.Users.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrUserNotFound):
		user, err = g.createUser(ctx, email, info)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	memberships, err := g.stores.Memberships.ListByUser(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	if len(memberships) > 0 {
		return user, nil
	}

	ws, err := g.provisioner.Provision(ctx, workspaceName(info, email), user.UserID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", user.UserID.String()).
		Str("workspace_id", ws.WorkspaceID.String()).
		Msg("Provisioned first workspace")

	return user, nil
}

func (g *Github) createUser(ctx context.Context, email string, info *UserInfo) (*models.User, error) {
	now := g.now()
	user := &models.User{
		UserID:    uuid.Must(uuid.NewV7()),
		Email:     email,
		Name:      info.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if info.Login != "" {
		login := info.Login
		user.GitHubLogin = &login
	}

	if err := g.stores.Users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrUserAlreadyExists) {
			// A concurrent sign in created the user first.
			return g.stores.Users.GetByEmail(ctx, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().Str("user_id", user.UserID.String()).Msg("Created user")
	return user, nil
}

func (g *Github) createSession(ctx context.Context, userID uuid.UUID, r *http.Request) (*models.Session, error) {
	now := g.now()
	session := &models.Session{
		SessionID:  uuid.Must(uuid.NewV7()),
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.sessionTTL),
		LastUsedAt: now,
		UserAgent:  r.UserAgent(),
		IPAddress:  httpmiddleware.ClientIPFromContext(ctx),
	}

	if err := g.stores.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// workspaceName picks a name for the first workspace. email is the
// normalised address, used when the profile has no login or name.
func workspaceName(info *UserInfo, email string) string {
	switch {
	case info.Login != "":
		return info.Login
	case info.Name != "":
		return info.Name
	default:
		local, _, _ := strings.Cut(email, "@")
		return local
	}
}

func (g *Github) getUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	// Add timeout to prevent hanging on slow GitHub API
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := g.config.Client(ctx, token)
	resp, err := client.Get(g.apiBaseURL + "/user")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d", resp.StatusCode)
	}

	var userInfo UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	// If email is not available from /user endpoint, fetch from /user/emails
	if userInfo.Email == "" {
		emails, err := g.getUserEmails(ctx, token)
		if err != nil {
			return nil, err
		}
		for _, email := range emails {
			if email.Primary && email.Verified {
				userInfo.Email = email.Email
				break
			}
		}
	}

	return &userInfo, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *Github) getUserEmails(ctx context.Context, token *oauth2.Token) ([]githubEmail, error) {
	client := g.config.Client(ctx, token)
	resp, err := client.Get(g.apiBaseURL + "/user/emails")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned HTTP %d for emails endpoint", resp.StatusCode)
	}

	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("failed to decode user emails: %w", err)
	}

	return emails, nil
}

type UserInfo struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

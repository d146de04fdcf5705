package login

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/brandpilot/internal/auth"
	"github.com/wolfeidau/brandpilot/internal/billing"
	httpmiddleware "github.com/wolfeidau/brandpilot/internal/http"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/plans"
	"github.com/wolfeidau/brandpilot/internal/store"
	"github.com/wolfeidau/brandpilot/internal/store/memory"
	"golang.org/x/oauth2"
)

type fixture struct {
	stores store.Stores
	gh     *Github
}

// newFixture wires a Github login against memory stores. apiURL, when set,
// points both the OAuth endpoint and the user API at a fake GitHub.
func newFixture(t *testing.T, apiURL string) *fixture {
	t.Helper()

	stores := memory.NewStores()
	var opts []Option
	if apiURL != "" {
		opts = append(opts, WithEndpoint(oauth2.Endpoint{
			AuthURL:   apiURL + "/login/oauth/authorize",
			TokenURL:  apiURL + "/login/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		}, apiURL))
	}

	gh, err := NewGithub("test-client-id", "test-client-secret", "http://localhost/github/callback",
		Stores{Users: stores.Users, Sessions: stores.Sessions, Memberships: stores.Memberships},
		billing.NewSubscriptions(stores, plans.Default(), nil),
		24*time.Hour, opts...)
	require.NoError(t, err)

	return &fixture{stores: stores, gh: gh}
}

// fakeGithub serves the OAuth token exchange and the user endpoints.
func fakeGithub(t *testing.T, user map[string]any, emails []map[string]any) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer","scope":"user:email"}`))
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("GET /user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(emails)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func callback(f *fixture, code string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/github/callback?state=abc&code="+code, nil)
	r.AddCookie(&http.Cookie{Name: stateCookieName, Value: "abc"})
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	r.Header.Set("User-Agent", "brandpilot-test")

	httpmiddleware.ClientIPMiddleware()(http.HandlerFunc(f.gh.CallbackHandler)).ServeHTTP(w, r)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestNewGithub(t *testing.T) {
	f := newFixture(t, "")

	require.Equal(t, "test-client-id", f.gh.config.ClientID)
	require.Equal(t, "test-client-secret", f.gh.config.ClientSecret)
	require.Equal(t, "http://localhost/github/callback", f.gh.config.RedirectURL)
	require.Equal(t, []string{"user:email"}, f.gh.config.Scopes)
	require.Equal(t, 24*time.Hour, f.gh.sessionTTL)
	require.Equal(t, githubAPIURL, f.gh.apiBaseURL)
}

func TestNewGithub_Validation(t *testing.T) {
	stores := memory.NewStores()
	loginStores := Stores{Users: stores.Users, Sessions: stores.Sessions, Memberships: stores.Memberships}
	provisioner := billing.NewSubscriptions(stores, plans.Default(), nil)

	_, err := NewGithub("", "secret", "http://localhost/callback", loginStores, provisioner, time.Hour)
	require.ErrorContains(t, err, "client ID")

	_, err = NewGithub("id", "secret", "http://localhost/callback", Stores{}, provisioner, time.Hour)
	require.ErrorContains(t, err, "all stores")

	_, err = NewGithub("id", "secret", "http://localhost/callback", loginStores, nil, time.Hour)
	require.ErrorContains(t, err, "provisioner")

	_, err = NewGithub("id", "secret", "http://localhost/callback", loginStores, provisioner, 0)
	require.ErrorContains(t, err, "session TTL")
}

func TestGithub_saveState(t *testing.T) {
	f := newFixture(t, "")

	states := make(map[string]bool)
	for range 10 {
		w := httptest.NewRecorder()
		state := f.gh.saveState(w, httptest.NewRequest(http.MethodGet, "/", nil))
		states[state] = true

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Equal(t, stateCookieName, cookies[0].Name)
		require.Equal(t, state, cookies[0].Value)
		require.True(t, cookies[0].HttpOnly)
		require.True(t, cookies[0].Secure)
	}

	require.Len(t, states, 10)
}

func TestGithub_LoginHandler(t *testing.T) {
	f := newFixture(t, "")

	w := httptest.NewRecorder()
	f.gh.LoginHandler(w, httptest.NewRequest(http.MethodGet, "/login", nil))

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.Contains(t, location, "github.com/login/oauth/authorize")
	require.Contains(t, location, "client_id=test-client-id")
	require.Contains(t, location, "scope=user%3Aemail")
}

func TestGithub_CallbackHandler_invalidRequest(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name   string
		url    string
		cookie string
	}{
		{name: "missing state", url: "/github/callback?code=some-code", cookie: "s"},
		{name: "missing code", url: "/github/callback?state=s", cookie: "s"},
		{name: "missing state cookie", url: "/github/callback?state=s&code=c"},
		{name: "state mismatch", url: "/github/callback?state=wrong&code=c", cookie: "s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: stateCookieName, Value: tt.cookie})
			}

			f.gh.CallbackHandler(w, r)

			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Contains(t, w.Body.String(), "Authentication failed")
		})
	}
}

func TestGithub_CallbackHandler_provisionsOnFirstLogin(t *testing.T) {
	gh := fakeGithub(t,
		map[string]any{"id": 1, "login": "octocat", "name": "Octo Cat"},
		[]map[string]any{
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "Octo@Example.com", "primary": true, "verified": true},
		})
	f := newFixture(t, gh.URL)
	ctx := context.Background()

	w := callback(f, "good-code")
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))

	sessionID, err := uuid.Parse(sessionCookie(t, w).Value)
	require.NoError(t, err)

	session, err := f.stores.Sessions.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.9", session.IPAddress)
	require.Equal(t, "brandpilot-test", session.UserAgent)

	user, err := f.stores.Users.GetByEmail(ctx, "octo@example.com")
	require.NoError(t, err)
	require.Equal(t, user.UserID, session.UserID)
	require.Equal(t, "octocat", *user.GitHubLogin)

	memberships, err := f.stores.Memberships.ListByUser(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	require.Equal(t, models.RoleOwner, memberships[0].Role)
	require.Equal(t, "octocat", memberships[0].WorkspaceName)

	sub, err := f.stores.Subscriptions.Get(ctx, memberships[0].WorkspaceID)
	require.NoError(t, err)
	require.Equal(t, plans.TierFree, sub.PlanTier)

	// A second sign in reuses the user and workspace.
	w = callback(f, "good-code")
	require.Equal(t, http.StatusFound, w.Code)

	memberships, err = f.stores.Memberships.ListByUser(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
}

func TestGithub_CallbackHandler_failures(t *testing.T) {
	t.Run("code exchange rejected", func(t *testing.T) {
		gh := fakeGithub(t, map[string]any{"login": "octocat", "email": "octo@example.com"}, nil)
		f := newFixture(t, gh.URL)

		w := callback(f, "bad-code")
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no verified primary email", func(t *testing.T) {
		gh := fakeGithub(t,
			map[string]any{"login": "octocat"},
			[]map[string]any{{"email": "octo@example.com", "primary": true, "verified": false}})
		f := newFixture(t, gh.URL)

		w := callback(f, "good-code")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "Email address required")
	})
}

func TestGithub_getOrCreateUser_repairsMissingWorkspace(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	// A user whose first sign in failed before provisioning.
	user := &models.User{UserID: uuid.Must(uuid.NewV7()), Email: "solo@example.com"}
	require.NoError(t, f.stores.Users.Create(ctx, user))

	got, err := f.gh.getOrCreateUser(ctx, &UserInfo{Email: "Solo@Example.com"})
	require.NoError(t, err)
	require.Equal(t, user.UserID, got.UserID)

	memberships, err := f.stores.Memberships.ListByUser(ctx, user.UserID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	require.Equal(t, "solo", memberships[0].WorkspaceName)
}

func TestWorkspaceName(t *testing.T) {
	tests := []struct {
		name string
		info *UserInfo
		want string
	}{
		{name: "login", info: &UserInfo{Login: "octocat", Name: "Mona", Email: "Octo@Example.com"}, want: "octocat"},
		{name: "name", info: &UserInfo{Name: "Mona", Email: "Octo@Example.com"}, want: "Mona"},
		{name: "normalised email", info: &UserInfo{Email: "Octo@Example.com"}, want: "octo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, workspaceName(tt.info, "octo@example.com"))
		})
	}
}

func TestGithub_LogoutHandler(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	user := &models.User{UserID: uuid.Must(uuid.NewV7()), Email: "test@example.com"}
	require.NoError(t, f.stores.Users.Create(ctx, user))
	session, err := f.gh.createSession(ctx, user.UserID, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/logout", nil)
	r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: session.SessionID.String()})
	f.gh.LogoutHandler(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))

	cookie := sessionCookie(t, w)
	require.Empty(t, cookie.Value)
	require.Equal(t, -1, cookie.MaxAge)

	_, err = f.stores.Sessions.Get(ctx, session.SessionID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestGithub_LogoutHandler_noSession(t *testing.T) {
	f := newFixture(t, "")

	w := httptest.NewRecorder()
	f.gh.LogoutHandler(w, httptest.NewRequest(http.MethodPost, "/logout", nil))

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, -1, sessionCookie(t, w).MaxAge)
}

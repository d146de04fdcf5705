package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/brandpilot/internal/models"
	"github.com/wolfeidau/brandpilot/internal/store"
	"github.com/wolfeidau/brandpilot/internal/store/memory"
)

const (
	testIssuer   = "https://brandpilot.test"
	testAudience = "https://brandpilot.test/api"
)

type staticKeys map[string]*ecdsa.PublicKey

func (k staticKeys) PublicKey(kid string) (*ecdsa.PublicKey, bool) {
	key, ok := k[kid]
	return key, ok
}

func signToken(t *testing.T, key *ecdsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestTokenResolver(t *testing.T) {
	key := newKey(t)
	other := newKey(t)
	resolver := NewTokenResolver(staticKeys{"k1": &key.PublicKey}, testIssuer, testAudience)
	userID := uuid.Must(uuid.NewV7())
	now := time.Now()

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{
			name:   "valid token",
			header: "Bearer " + signToken(t, key, "k1", NewUserClaims(testIssuer, testAudience, userID, now, time.Hour)),
			ok:     true,
		},
		{
			name:   "expired token",
			header: "Bearer " + signToken(t, key, "k1", NewUserClaims(testIssuer, testAudience, userID, now.Add(-2*time.Hour), time.Hour)),
		},
		{
			name:   "wrong signing key",
			header: "Bearer " + signToken(t, other, "k1", NewUserClaims(testIssuer, testAudience, userID, now, time.Hour)),
		},
		{
			name:   "unknown kid",
			header: "Bearer " + signToken(t, key, "k2", NewUserClaims(testIssuer, testAudience, userID, now, time.Hour)),
		},
		{
			name:   "wrong issuer",
			header: "Bearer " + signToken(t, key, "k1", NewUserClaims("https://evil.test", testAudience, userID, now, time.Hour)),
		},
		{
			name:   "wrong audience",
			header: "Bearer " + signToken(t, key, "k1", NewUserClaims(testIssuer, "other", userID, now, time.Hour)),
		},
		{
			name:   "nil subject",
			header: "Bearer " + signToken(t, key, "k1", NewUserClaims(testIssuer, testAudience, uuid.Nil, now, time.Hour)),
		},
		{
			name:   "garbage",
			header: "Bearer not-a-jwt",
		},
		{
			name:   "basic auth",
			header: "Basic dXNlcjpwYXNz",
		},
		{
			name: "no header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			p, ok := resolver.Resolve(req)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, userID, p.UserID)
				require.Equal(t, MethodToken, p.Method)
			} else {
				require.Nil(t, p)
			}
		})
	}
}

func TestTokenResolver_RejectsHMAC(t *testing.T) {
	key := newKey(t)
	resolver := NewTokenResolver(staticKeys{"k1": &key.PublicKey}, testIssuer, testAudience)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, NewUserClaims(testIssuer, testAudience, uuid.New(), time.Now(), time.Hour))
	token.Header["kid"] = "k1"
	s, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+s)
	_, ok := resolver.Resolve(req)
	require.False(t, ok)
}

func TestSessionResolver(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	resolver := NewSessionResolver(stores.Sessions)

	userID := uuid.Must(uuid.NewV7())
	now := time.Now()
	live := &models.Session{SessionID: uuid.Must(uuid.NewV7()), UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	expired := &models.Session{SessionID: uuid.Must(uuid.NewV7()), UserID: userID, CreatedAt: now, ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, stores.Sessions.Create(ctx, live))
	require.NoError(t, stores.Sessions.Create(ctx, expired))

	request := func(cookie string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookie})
		}
		return req
	}

	p, ok := resolver.Resolve(request(live.SessionID.String()))
	require.True(t, ok)
	require.Equal(t, userID, p.UserID)
	require.Equal(t, live.SessionID, p.SessionID)
	require.Equal(t, MethodSession, p.Method)

	for name, cookie := range map[string]string{
		"no cookie": "",
		"malformed": "not-a-uuid",
		"unknown":   uuid.NewString(),
		"expired":   expired.SessionID.String(),
	} {
		t.Run(name, func(t *testing.T) {
			p, ok := resolver.Resolve(request(cookie))
			require.False(t, ok)
			require.Nil(t, p)
		})
	}
}

type failingSessions struct {
	store.SessionStore
}

func (failingSessions) Get(context.Context, uuid.UUID) (*models.Session, error) {
	return nil, errors.New("connection refused")
}

func TestSessionResolver_StoreFailureIsUnauthenticated(t *testing.T) {
	resolver := NewSessionResolver(failingSessions{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: uuid.NewString()})

	p, ok := resolver.Resolve(req)
	require.False(t, ok)
	require.Nil(t, p)
}

func TestChainResolver(t *testing.T) {
	tokenUser := uuid.New()
	sessionUser := uuid.New()

	token := ResolverFunc(func(r *http.Request) (*Principal, bool) {
		if extractBearerToken(r) == "good" {
			return &Principal{UserID: tokenUser, Method: MethodToken}, true
		}
		return nil, false
	})
	session := ResolverFunc(func(r *http.Request) (*Principal, bool) {
		if _, err := r.Cookie(SessionCookieName); err == nil {
			return &Principal{UserID: sessionUser, Method: MethodSession}, true
		}
		return nil, false
	})
	chain := NewChainResolver(token, session)

	t.Run("token wins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "x"})
		p, ok := chain.Resolve(req)
		require.True(t, ok)
		require.Equal(t, tokenUser, p.UserID)
	})

	t.Run("bad token does not fall back to cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "x"})
		_, ok := chain.Resolve(req)
		require.False(t, ok)
	})

	t.Run("session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "x"})
		p, ok := chain.Resolve(req)
		require.True(t, ok)
		require.Equal(t, sessionUser, p.UserID)
	})

	t.Run("nothing", func(t *testing.T) {
		_, ok := chain.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
		require.False(t, ok)
	})
}

func TestRequirePrincipal(t *testing.T) {
	userID := uuid.New()
	resolver := ResolverFunc(func(r *http.Request) (*Principal, bool) {
		if r.Header.Get("X-Test-User") == "yes" {
			return &Principal{UserID: userID, Method: MethodSession}, true
		}
		return nil, false
	})

	var seen uuid.UUID
	handler := RequirePrincipal(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := UserIDFromContext(r.Context())
		require.NoError(t, err)
		seen = id
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me/workspaces", nil)
		req.Header.Set("X-Test-User", "yes")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, userID, seen)
	})

	t.Run("api request gets 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me/workspaces", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.JSONEq(t, `{"error":"unauthenticated"}`, rec.Body.String())
	})

	t.Run("browser request redirects to login", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me/workspaces", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, LoginPath, rec.Header().Get("Location"))
	})
}

func TestUserIDFromContext(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = UserIDFromContext(WithPrincipal(context.Background(), &Principal{}))
	require.ErrorIs(t, err, ErrUnauthenticated)
}

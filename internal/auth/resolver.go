package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/store"
)

// SessionCookieName is the cookie holding the opaque session ID.
const SessionCookieName = "_session"

// Resolver turns a request into a principal. It never returns an error:
// every failure is reported as (nil, false).
type Resolver interface {
	Resolve(r *http.Request) (*Principal, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(r *http.Request) (*Principal, bool)

// Resolve calls f(r).
func (f ResolverFunc) Resolve(r *http.Request) (*Principal, bool) {
	return f(r)
}

// SessionResolver authenticates requests by their server-side session cookie.
type SessionResolver struct {
	sessions store.SessionStore
}

// NewSessionResolver creates a resolver backed by the session store.
func NewSessionResolver(sessions store.SessionStore) *SessionResolver {
	return &SessionResolver{sessions: sessions}
}

// Resolve looks up the session named by the cookie.
func (sr *SessionResolver) Resolve(r *http.Request) (*Principal, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, false
	}

	sessionID, err := uuid.Parse(cookie.Value)
	if err != nil {
		log.Debug().Msg("Session auth: malformed session cookie")
		return nil, false
	}

	ctx := r.Context()
	session, err := sr.sessions.Get(ctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
			log.Debug().Err(err).Msg("Session auth: session rejected")
		default:
			log.Warn().Err(err).Msg("Session auth: session store unavailable")
		}
		return nil, false
	}

	if err := sr.sessions.UpdateLastUsed(ctx, sessionID); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID.String()).Msg("Session auth: failed to touch session")
	}

	return &Principal{
		UserID:    session.UserID,
		Method:    MethodSession,
		SessionID: session.SessionID,
	}, true
}

// KeySource provides the public keys that user tokens are signed with.
type KeySource interface {
	PublicKey(kid string) (*ecdsa.PublicKey, bool)
}

// TokenResolver authenticates requests carrying a bearer JWT issued by this service.
type TokenResolver struct {
	keys     KeySource
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenResolver creates a resolver that verifies tokens from issuer for audience.
func NewTokenResolver(keys KeySource, issuer, audience string) *TokenResolver {
	return &TokenResolver{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// Resolve verifies the bearer token in the Authorization header.
func (tr *TokenResolver) Resolve(r *http.Request) (*Principal, bool) {
	tokenString := extractBearerToken(r)
	if tokenString == "" {
		return nil, false
	}

	userID, err := tr.verify(tokenString)
	if err != nil {
		log.Debug().Err(err).Msg("Token auth: verification failed")
		return nil, false
	}

	return &Principal{UserID: userID, Method: MethodToken}, true
}

func (tr *TokenResolver) verify(tokenString string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := tr.keys.PublicKey(kid)
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(tr.issuer),
		jwt.WithAudience(tr.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tr.now),
	)
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid subject claim: %q", claims.Subject)
	}

	return userID, nil
}

// ChainResolver tries bearer tokens first, then session cookies. A request that
// presents a bearer token is judged on the token alone and never falls back to
// its cookie.
type ChainResolver struct {
	token   Resolver
	session Resolver
}

// NewChainResolver combines a token and a session resolver. Either may be nil.
func NewChainResolver(token, session Resolver) *ChainResolver {
	return &ChainResolver{token: token, session: session}
}

// Resolve implements Resolver.
func (cr *ChainResolver) Resolve(r *http.Request) (*Principal, bool) {
	if r.Header.Get("Authorization") != "" {
		if cr.token == nil {
			return nil, false
		}
		return cr.token.Resolve(r)
	}

	if cr.session == nil {
		return nil, false
	}
	return cr.session.Resolve(r)
}

// extractBearerToken extracts the JWT from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

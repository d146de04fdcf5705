package oidc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/brandpilot/internal/auth"
)

// DefaultTokenTTL is how long issued API tokens stay valid.
const DefaultTokenTTL = time.Hour

// Handler provides the token issuing endpoints.
// The service acts as its own OpenID Connect (OIDC) provider for API clients.
type Handler struct {
	keyManager *KeyManager
	baseURL    string // Issuer, e.g. "https://app.brandpilot.dev"
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

// NewHandler creates a new OIDC handler. Tokens are issued by baseURL for audience.
func NewHandler(keyManager *KeyManager, baseURL, audience string) *Handler {
	return &Handler{
		keyManager: keyManager,
		baseURL:    baseURL,
		audience:   audience,
		ttl:        DefaultTokenTTL,
		now:        time.Now,
	}
}

// DiscoveryHandler returns the OIDC discovery document at /.well-known/openid-configuration
func (h *Handler) DiscoveryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Msg("OIDC discovery request")

		config := map[string]any{
			"issuer":                                h.baseURL,
			"jwks_uri":                              h.baseURL + "/.well-known/jwks.json",
			"token_endpoint":                        h.baseURL + "/auth/token",
			"response_types_supported":              []string{"token"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"ES256"},
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=86400") // Cache for 24 hours
		if err := json.NewEncoder(w).Encode(config); err != nil {
			log.Error().Err(err).Msg("Failed to encode OIDC discovery response")
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

// JWKSHandler returns the public key in JWKS format at /.well-known/jwks.json
func (h *Handler) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("kid", h.keyManager.Kid()).Msg("JWKS request")

		jwks := map[string]any{
			"keys": []any{h.keyManager.JWK()},
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
		if err := json.NewEncoder(w).Encode(jwks); err != nil {
			log.Error().Err(err).Msg("Failed to encode JWKS response")
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenHandler issues a JWT for the logged-in user at POST /auth/token.
// It must run behind auth.RequirePrincipal. Only browser sessions may mint
// tokens, so a token cannot be used to extend itself.
func (h *Handler) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := auth.PrincipalFromContext(r.Context())
		if principal == nil || principal.Method != auth.MethodSession {
			log.Warn().Msg("Token request without valid session")
			auth.WriteUnauthenticated(w, r)
			return
		}

		claims := auth.NewUserClaims(h.baseURL, h.audience, principal.UserID, h.now(), h.ttl)

		tokenString, err := h.keyManager.SignJWT(claims)
		if err != nil {
			log.Error().Err(err).Msg("Failed to sign JWT")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		log.Info().
			Str("user_id", principal.UserID.String()).
			Str("jti", claims.ID).
			Msg("Issued user JWT")

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: tokenString,
			TokenType:   "Bearer",
			ExpiresIn:   int(h.ttl.Seconds()),
		}); err != nil {
			log.Error().Err(err).Msg("Failed to encode token response")
		}
	}
}

package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// LoginPath is where unauthenticated browser requests are sent.
const LoginPath = "/login"

// RequirePrincipal resolves the principal and adds it to the request context.
// Unauthenticated browser requests are redirected to the login page; API
// requests get a 401 JSON error.
func RequirePrincipal(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := resolver.Resolve(r)
			if !ok {
				WriteUnauthenticated(w, r)
				return
			}

			log.Debug().
				Str("user_id", principal.UserID.String()).
				Str("method", string(principal.Method)).
				Msg("Authenticated request")

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// WriteUnauthenticated writes the unauthenticated response for r.
func WriteUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if wantsHTML(r) {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
}

func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

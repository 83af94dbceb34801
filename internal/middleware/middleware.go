package middleware

import (
	"net/http"

	"github.com/OpenColumn/OC-Backend/internal/identity"
	"github.com/OpenColumn/OC-Backend/internal/logging"
)

// RequireSession authenticates the request through either transport (cookie
// or bearer) and stores the resulting Identity on the context. Failures
// render through identity.Deny; the reason only reaches the logs.
func RequireSession(auth *identity.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := identity.CredentialFromRequest(r)
			if !ok {
				identity.Deny(w)
				return
			}

			id, err := auth.Authenticate(r.Context(), cred)
			if err != nil {
				if identity.IsAuthFailure(err) {
					logging.FromContext(r.Context()).Info("authentication failed",
						"path", r.URL.Path, "reason", err.Error())
					identity.Deny(w)
					return
				}
				logging.FromContext(r.Context()).Error("authenticator store error", "error", err)
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), id)))
		})
	}
}

// RequireCapability gates a route on the role sets from the authorization
// gate. It must run below RequireSession. Self-or-owner capabilities are
// checked in handlers, where the resource owner is known.
func RequireCapability(cap identity.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok {
				identity.Deny(w)
				return
			}

			if err := identity.Authorize(id, cap, ""); err != nil {
				logging.FromContext(r.Context()).Info("authorization denied",
					"path", r.URL.Path, "user_id", id.UserID, "role", string(id.Role))
				identity.Deny(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORS echoes the origin back only when it is on the allow-list.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin") // important for caches
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods",
					"GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers",
					"Content-Type, Authorization")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

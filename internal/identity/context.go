package identity

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const contextIdentityKey contextKey = "identity"

// NewContext stores the authenticated identity on the request context.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, id)
}

// FromContext returns the identity placed by the session middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextIdentityKey).(Identity)
	return id, ok
}

// CredentialFromRequest is the single extraction point for both transports:
// the session cookie and the Authorization bearer header. The bearer header
// wins when both are present (mobile clients occasionally carry stale
// cookies from embedded web views).
func CredentialFromRequest(r *http.Request) (Credential, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return Credential{
			Kind:  CredentialBearer,
			Token: strings.TrimPrefix(auth, "Bearer "),
		}, true
	}
	if cookie, err := r.Cookie("session_id"); err == nil && cookie.Value != "" {
		return Credential{
			Kind:      CredentialCookie,
			SessionID: cookie.Value,
		}, true
	}
	return Credential{}, false
}

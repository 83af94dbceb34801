package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/OpenColumn/OC-Backend/internal/identity"
	"github.com/OpenColumn/OC-Backend/internal/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// identityInjector stands in for RequireSession in tests that only exercise
// the capability gate.
func identityInjector(id identity.Identity, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), id)))
	})
}

func TestRequireCapability(t *testing.T) {
	gate := middleware.RequireCapability(identity.CapModeration)(okHandler())

	noIdentity := httptest.NewRecorder()
	gate.ServeHTTP(noIdentity, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, noIdentity.Code)

	t.Run("insufficient role is externally identical to no credential", func(t *testing.T) {
		h := identityInjector(identity.Identity{UserID: "u1", Role: identity.RolePublisher}, gate)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, noIdentity.Code, rec.Code)
		require.Equal(t, noIdentity.Body.String(), rec.Body.String())
	})

	t.Run("sub_admin allowed", func(t *testing.T) {
		h := identityInjector(identity.Identity{UserID: "u2", Role: identity.RoleSubAdmin}, gate)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	h := middleware.CORS([]string{"https://app.opencolumn.io"})(okHandler())

	t.Run("listed origin echoed back", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.opencolumn.io")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, "https://app.opencolumn.io", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unlisted origin gets no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.opencolumn.io")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	h := middleware.RateLimit(rate.Limit(0.001), 2)(okHandler())

	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, hit("10.0.0.1:1111"))
	require.Equal(t, http.StatusOK, hit("10.0.0.1:1111"))
	require.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1:1111"))

	// Another client has its own bucket.
	require.Equal(t, http.StatusOK, hit("10.0.0.2:2222"))
}

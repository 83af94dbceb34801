package router

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/OpenColumn/OC-Backend/internal/entitlement"
	"github.com/OpenColumn/OC-Backend/internal/identity"
	"github.com/OpenColumn/OC-Backend/internal/middleware"
	"github.com/OpenColumn/OC-Backend/internal/webhooks"
)

// Deps are the constructed components the router mounts. Everything is built
// once in main and handed in; the router owns no state of its own.
type Deps struct {
	Logger         *slog.Logger
	Auth           *identity.Authenticator
	Identity       *identity.Handler
	Entitlement    *entitlement.Handler
	Webhooks       *webhooks.Processor
	AllowedOrigins []string
}

func New(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.CORS(d.AllowedOrigins))

	requireSession := middleware.RequireSession(d.Auth)
	loginLimit := middleware.RateLimit(rate.Limit(1), 5)
	webhookLimit := middleware.RateLimit(rate.Limit(20), 40)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "Server is up!")
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(loginLimit).Post("/register", d.Identity.RegisterHandler)
		r.With(loginLimit).Post("/login", d.Identity.LoginHandler)
		r.With(loginLimit).Post("/token", d.Identity.TokenHandler)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/logout", d.Identity.LogoutHandler)
			r.Get("/me", d.Identity.MeHandler)
			r.Post("/update-password", d.Identity.UpdatePasswordHandler)
		})
	})

	r.Route("/entitlements", func(r chi.Router) {
		r.Use(requireSession)
		r.Post("/elevation", d.Entitlement.RequestElevationHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCapability(identity.CapModeration))
			r.Get("/elevation/pending", d.Entitlement.PendingElevationsHandler)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCapability(identity.CapAdmin))
			r.Patch("/elevation/{id}", d.Entitlement.ResolveElevationHandler)
		})
	})

	r.Route("/ads", func(r chi.Router) {
		r.Get("/serving", d.Entitlement.ServingHandler)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/", d.Entitlement.CreateAdHandler)
			r.Get("/mine", d.Entitlement.MyAdsHandler)
			r.Get("/{id}", d.Entitlement.GetAdHandler)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireCapability(identity.CapModeration))
				r.Post("/{id}/approve", d.Entitlement.ApproveAdHandler)
			})
		})
	})

	r.With(webhookLimit).Post("/webhooks/payments", d.Webhooks.HandleEvent)

	return r
}

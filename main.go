package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/OpenColumn/OC-Backend/internal/config"
	"github.com/OpenColumn/OC-Backend/internal/db"
	"github.com/OpenColumn/OC-Backend/internal/entitlement"
	"github.com/OpenColumn/OC-Backend/internal/identity"
	"github.com/OpenColumn/OC-Backend/internal/logging"
	"github.com/OpenColumn/OC-Backend/internal/notify"
	"github.com/OpenColumn/OC-Backend/internal/router"
	"github.com/OpenColumn/OC-Backend/internal/webhooks"
)

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logging.New("info").Error("config load failed", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)

	store, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Error("database connect failed", "error", err)
		os.Exit(1)
	}

	if err := identity.Init(store); err != nil {
		log.Error("identity migration failed", "error", err)
		os.Exit(1)
	}
	if err := entitlement.Init(store); err != nil {
		log.Error("entitlement migration failed", "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier = notify.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kn.Close()
		notifier = kn
	}

	auth := &identity.Authenticator{DB: store, TokenSecret: []byte(cfg.TokenSecret)}
	machine := entitlement.NewMachine(store, notifier)

	r := router.New(router.Deps{
		Logger: log,
		Auth:   auth,
		Identity: &identity.Handler{
			DB:         store,
			Auth:       auth,
			SessionTTL: cfg.SessionTTL,
			TokenTTL:   cfg.TokenTTL,
			DevCookies: os.Getenv("DEV_COOKIES") == "true",
		},
		Entitlement:    &entitlement.Handler{DB: store, Machine: machine},
		Webhooks:       webhooks.NewProcessor(machine, []byte(cfg.WebhookSecret), cfg.WebhookTolerance),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// Expired sessions are swept in the background; the read path only ever
	// checks expiry, it never deletes.
	go func() {
		ctx := logging.IntoContext(context.Background(), log)
		for range time.Tick(time.Hour) {
			if n, err := auth.DeleteExpiredSessions(ctx); err != nil {
				log.Error("session sweep failed", "error", err)
			} else if n > 0 {
				log.Info("session sweep", "deleted", n)
			}
		}
	}()

	log.Info("server listening", "port", cfg.Port)
	if err := http.ListenAndServe("0.0.0.0:"+cfg.Port, r); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

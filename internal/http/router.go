package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/mailvite/internal/backend"
	"github.com/jw6ventures/mailvite/internal/config"
	"github.com/jw6ventures/mailvite/internal/http/ratelimit"
	"github.com/jw6ventures/mailvite/internal/invite"
	"github.com/jw6ventures/mailvite/internal/mailin"
	"github.com/jw6ventures/mailvite/internal/metrics"
)

// NewRouter wires the widget API. decryptor may be nil when attachments
// arrive in the clear.
func NewRouter(cfg *config.Config, client backend.Client, replier invite.Replier, decryptor mailin.Decryptor) http.Handler {
	r := chi.NewRouter()

	// Message ingestion parses attachments and may call the backend: keep it
	// tighter than reads.
	ingestLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	apiLimiter := ratelimit.NewIPRateLimiter(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := client.ListCalendars(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	widgets := NewWidgetHandler(client, cfg.UserEmail, replier, cfg.DefaultTimezone, decryptor)

	r.Route("/api", func(r chi.Router) {
		r.With(ingestLimiter.Middleware()).Post("/messages", widgets.CreateFromMessage)

		r.Group(func(r chi.Router) {
			r.Use(apiLimiter.Middleware())
			r.Get("/invitations/{id}", widgets.Get)
			r.Post("/invitations/{id}/{action}", widgets.Intent)
			r.Delete("/invitations/{id}", widgets.Delete)
		})
	})

	return r
}

package http

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/middleware"
)

type RouterConfig struct {
	CORSOrigin string
	// TrustProxy replaces RemoteAddr with the forwarded client address
	// before logging and rate limiting.
	TrustProxy bool
	Log        zerolog.Logger
	Requests   middleware.RequestRecorder
	// MailLimit and SessionLimit wrap the mail and login routes when set.
	MailLimit    func(stdhttp.Handler) stdhttp.Handler
	SessionLimit func(stdhttp.Handler) stdhttp.Handler
	// Metrics is mounted at /metrics when set.
	Metrics stdhttp.Handler
}

func (h *Handler) Routes(cfg RouterConfig) stdhttp.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware(cfg.Log))
	r.Use(middleware.NewLoggingMiddleware(cfg.Log, cfg.Requests))
	r.Use(middleware.NewCORSMiddleware(cfg.CORSOrigin))

	r.Get("/healthz", h.Health)
	if cfg.Metrics != nil {
		r.Method(stdhttp.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Get("/embed", h.Embed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/count", h.Count)
		r.Get("/comments", h.Comments)
		r.Get("/canonical", h.Canonical)

		r.Group(func(r chi.Router) {
			if cfg.MailLimit != nil {
				r.Use(cfg.MailLimit)
			}
			r.Get("/mail", h.Mail)
			r.Post("/mail", h.Mail)
			r.Get("/mail/circle", h.CircleMail)
			r.Post("/mail/circle", h.CircleMail)
		})

		r.Group(func(r chi.Router) {
			if cfg.SessionLimit != nil {
				r.Use(cfg.SessionLimit)
			}
			r.Post("/session", h.Session)
		})
	})

	return r
}

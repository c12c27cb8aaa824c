package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/cache"
	"github.com/willemliu/universal-comments/internal/canonical"
	commenthttp "github.com/willemliu/universal-comments/internal/comment/handler/http"
	"github.com/willemliu/universal-comments/internal/comment/service"
	"github.com/willemliu/universal-comments/internal/comment/storage"
	"github.com/willemliu/universal-comments/internal/comment/storage/hasura"
	"github.com/willemliu/universal-comments/internal/comment/storage/inmemory"
	"github.com/willemliu/universal-comments/internal/comment/storage/postgres"
	"github.com/willemliu/universal-comments/internal/config"
	"github.com/willemliu/universal-comments/internal/database"
	"github.com/willemliu/universal-comments/internal/metrics"
	"github.com/willemliu/universal-comments/internal/middleware"
	"github.com/willemliu/universal-comments/internal/notify"
	"github.com/willemliu/universal-comments/internal/session"
)

// server bundles the wired HTTP handler with everything that must be
// released on shutdown.
type server struct {
	handler  http.Handler
	closers  []func() error
	limiters []*middleware.RateLimiter
}

func (s *server) Close() {
	for _, rl := range s.limiters {
		rl.Stop()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func openRepository(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Repository, func() error, error) {
	switch cfg.Backend {
	case config.BackendHasura:
		log.Info().Str("endpoint", cfg.HasuraURL).Str("role", cfg.HasuraRole).Msg("using hasura backend")
		return hasura.New(hasura.Config{
			Endpoint:    cfg.HasuraURL,
			Role:        cfg.HasuraRole,
			AdminSecret: cfg.HasuraAdminSecret,
			HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		}), func() error { return nil }, nil
	case config.BackendPostgres:
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		log.Info().Msg("using postgres backend")
		return postgres.New(db), db.Close, nil
	default:
		log.Warn().Msg("using in-memory backend; data is lost on restart")
		return inmemory.New(), func() error { return nil }, nil
	}
}

func newMailer(cfg *config.Config, log zerolog.Logger) notify.Mailer {
	switch {
	case cfg.MailjetAPIKey != "":
		return notify.NewMailjetMailer(cfg.MailjetAPIKey, cfg.MailjetSecretKey)
	case cfg.SMTPHost != "":
		return notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
	default:
		log.Warn().Msg("no mail transport configured; notifications are only logged")
		return notify.NewLogMailer(log)
	}
}

// newCountCache prefers Redis and falls back to the in-process cache when
// Redis is not configured or unreachable.
func newCountCache(cfg *config.Config, log zerolog.Logger) (cache.CountCache, func() error, error) {
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCountCache(cfg.RedisURL, cfg.CountTTL)
		if err == nil {
			return rc, rc.Close, nil
		}
		log.Warn().Err(err).Msg("redis unavailable; using in-process count cache")
	}
	lc, err := cache.NewLRUCountCache(4096, cfg.CountTTL)
	if err != nil {
		return nil, nil, err
	}
	return lc, func() error { return nil }, nil
}

func newProviders(cfg *config.Config) (session.Providers, error) {
	ps := session.Providers{}

	if cfg.Auth0Domain != "" {
		ac := session.Auth0Config{Domain: cfg.Auth0Domain, ClientID: cfg.Auth0ClientID}
		switch {
		case cfg.Auth0PublicKey != "":
			key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.Auth0PublicKey))
			if err != nil {
				return nil, fmt.Errorf("parse AUTH0_PUBLIC_KEY: %w", err)
			}
			ac.PublicKey = key
		case cfg.Auth0Secret != "":
			ac.Secret = []byte(cfg.Auth0Secret)
		default:
			return nil, fmt.Errorf("AUTH0_DOMAIN needs AUTH0_PUBLIC_KEY or AUTH0_CLIENT_SECRET")
		}
		ps.Add(session.NewAuth0Provider(ac))
	}
	if cfg.GoogleClientID != "" {
		ps.Add(session.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL))
	}
	if cfg.FacebookClientID != "" {
		ps.Add(session.NewFacebookProvider(cfg.FacebookClientID, cfg.FacebookClientSecret, cfg.OAuthRedirectURL))
	}
	return ps, nil
}

// build wires every component for the serve command.
func build(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg *prometheus.Registry) (*server, error) {
	s := &server{}

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeRepo)

	counts, closeCache, err := newCountCache(cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, closeCache)

	providers, err := newProviders(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	collector := metrics.NewCollector(reg)
	notifier := notify.NewService(repo, newMailer(cfg, log),
		notify.Address{Email: cfg.MailFromEmail, Name: cfg.MailFromName},
		notify.WithSentCounter(collector.NotificationsSent()),
		notify.WithLogger(log.With().Str("component", "notify").Logger()),
	)

	h := commenthttp.New(commenthttp.Deps{
		Comments:  service.New(repo),
		Users:     repo,
		Notifier:  notifier,
		Providers: providers,
		Counts:    counts,
		Canonical: canonical.NewResolver(cfg.FetchTimeout),
		Metrics:   collector,
		Log:       log,
	})

	mailLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitMail), log)
	sessionLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitSession), log)
	s.limiters = append(s.limiters, mailLimiter, sessionLimiter)

	s.handler = h.Routes(commenthttp.RouterConfig{
		CORSOrigin:   cfg.CORSAllowedOrigin,
		TrustProxy:   cfg.TrustProxy,
		Log:          log,
		Requests:     collector,
		MailLimit:    mailLimiter.Middleware(),
		SessionLimit: sessionLimiter.Middleware(),
		Metrics:      metrics.Handler(reg),
	})
	return s, nil
}

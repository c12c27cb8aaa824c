// Package config reads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendHasura   = "hasura"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	// Server
	Port              string
	CORSAllowedOrigin string
	ShutdownTimeout   time.Duration

	// Backend
	Backend           string
	HasuraURL         string
	HasuraRole        string
	HasuraAdminSecret string
	DatabaseURL       string

	// Count cache
	RedisURL string
	CountTTL time.Duration

	// Mail
	MailjetAPIKey    string
	MailjetSecretKey string
	SMTPHost         string
	SMTPPort         string
	SMTPUsername     string
	SMTPPassword     string
	MailFromEmail    string
	MailFromName     string

	// Login providers
	Auth0Domain          string
	Auth0ClientID        string
	Auth0Secret          string
	Auth0PublicKey       string
	GoogleClientID       string
	GoogleClientSecret   string
	FacebookClientID     string
	FacebookClientSecret string
	OAuthRedirectURL     string

	// Canonical fetch
	FetchTimeout time.Duration

	// Rate limit, requests per minute per client address
	RateLimitMail    int
	RateLimitSession int
	// TrustProxy takes the client address from forwarding headers. Enable
	// only behind a proxy that overwrites them.
	TrustProxy bool

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads .env when present and then the environment. All missing
// required values are reported together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{}
	var missing []string

	cfg.Backend = strings.ToLower(getEnvString("BACKEND", BackendHasura))
	switch cfg.Backend {
	case BackendHasura:
		cfg.HasuraURL = os.Getenv("HASURA_URL")
		if cfg.HasuraURL == "" {
			missing = append(missing, "HASURA_URL")
		}
	case BackendPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown BACKEND %q (want hasura, postgres or memory)", cfg.Backend)
	}

	cfg.MailjetAPIKey = os.Getenv("MAILJET_API_KEY")
	cfg.MailjetSecretKey = os.Getenv("MAILJET_SECRET_KEY")
	if (cfg.MailjetAPIKey == "") != (cfg.MailjetSecretKey == "") {
		missing = append(missing, "MAILJET_API_KEY and MAILJET_SECRET_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.Port = getEnvString("PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.HasuraRole = getEnvString("HASURA_ROLE", "universal-comments")
	cfg.HasuraAdminSecret = os.Getenv("HASURA_ADMIN_SECRET")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.CountTTL = getEnvDuration("COUNT_TTL", 60*time.Second)

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = getEnvString("SMTP_PORT", "587")
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.MailFromEmail = getEnvString("MAIL_FROM_EMAIL", "noreply@universal-comments.local")
	cfg.MailFromName = getEnvString("MAIL_FROM_NAME", "Universal Comments")

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0ClientID = os.Getenv("AUTH0_CLIENT_ID")
	cfg.Auth0Secret = os.Getenv("AUTH0_CLIENT_SECRET")
	cfg.Auth0PublicKey = os.Getenv("AUTH0_PUBLIC_KEY")
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.FacebookClientID = os.Getenv("FACEBOOK_CLIENT_ID")
	cfg.FacebookClientSecret = os.Getenv("FACEBOOK_CLIENT_SECRET")
	cfg.OAuthRedirectURL = os.Getenv("OAUTH_REDIRECT_URL")

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 5*time.Second)

	cfg.RateLimitMail = getEnvInt("RATE_LIMIT_MAIL", 30)
	cfg.RateLimitSession = getEnvInt("RATE_LIMIT_SESSION", 60)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFile = os.Getenv("LOG_FILE")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/cache"
	"github.com/willemliu/universal-comments/internal/config"
	"github.com/willemliu/universal-comments/internal/notify"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{nil, CommandServe},
		{[]string{"serve"}, CommandServe},
		{[]string{"migrate"}, CommandMigrate},
		{[]string{"rollback"}, CommandRollback},
		{[]string{"healthcheck"}, CommandHealthcheck},
		{[]string{"bogus"}, CommandServe},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.args); got != tt.want {
			t.Fatalf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestNewMailerSelection(t *testing.T) {
	log := zerolog.Nop()
	if _, ok := newMailer(&config.Config{MailjetAPIKey: "k", MailjetSecretKey: "s"}, log).(*notify.MailjetMailer); !ok {
		t.Fatalf("mailjet keys should select Mailjet")
	}
	if _, ok := newMailer(&config.Config{SMTPHost: "mail.example.com", SMTPPort: "25"}, log).(*notify.SMTPMailer); !ok {
		t.Fatalf("smtp host should select SMTP")
	}
	if _, ok := newMailer(&config.Config{}, log).(*notify.LogMailer); !ok {
		t.Fatalf("no transport should select the log mailer")
	}
}

func TestNewCountCacheFallsBackToLRU(t *testing.T) {
	c, closeFn, err := newCountCache(&config.Config{RedisURL: "redis://127.0.0.1:1"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("newCountCache: %v", err)
	}
	defer closeFn()
	if _, ok := c.(*cache.LRUCountCache); !ok {
		t.Fatalf("expected LRU fallback, got %T", c)
	}
}

func TestNewProviders(t *testing.T) {
	ps, err := newProviders(&config.Config{
		Auth0Domain:    "tenant.auth0.com",
		Auth0Secret:    "s3cret",
		GoogleClientID: "g",
	})
	if err != nil {
		t.Fatalf("newProviders: %v", err)
	}
	for _, name := range []string{"auth0", "google"} {
		if _, ok := ps.Get(name); !ok {
			t.Fatalf("provider %s missing", name)
		}
	}
	if _, ok := ps.Get("facebook"); ok {
		t.Fatalf("facebook should not be configured")
	}

	if _, err := newProviders(&config.Config{Auth0Domain: "tenant.auth0.com"}); err == nil {
		t.Fatalf("auth0 without key material should fail")
	}
}

func TestBuildServesMemoryBackend(t *testing.T) {
	cfg := &config.Config{
		Backend:           config.BackendMemory,
		CORSAllowedOrigin: "*",
		RateLimitMail:     10,
		RateLimitSession:  10,
	}
	s, err := build(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer s.Close()

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	if err := runHealthcheck(srv.URL); err != nil {
		t.Fatalf("healthcheck: %v", err)
	}

	res, err := http.Get(srv.URL + "/api/count?canonical=https://x/p")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	_ = res.Body.Close()

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer res.Body.Close()
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, res.Body)
	if !strings.Contains(buf.String(), "universal_comments_http_requests_total") {
		t.Fatalf("request metric missing:\n%s", buf.String())
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	if got := maskDatabaseURL("postgres://user:pass@db:5432/comments"); strings.Contains(got, "pass") {
		t.Fatalf("password leaked: %s", got)
	}
}

package canonical

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		html     string
		override string
		want     string
	}{
		{"override wins", "https://x/p", `<link rel="canonical" href="https://y/q">`, "https://z/r/", "https://z/r"},
		{"link tag", "https://x/p?a=1", `<html><head><link rel="canonical" href="https://y/q/"></head></html>`, "", "https://y/q"},
		{"relative link tag", "https://x/dir/p", `<link rel="Canonical" href="/other">`, "", "https://x/other"},
		{"empty href falls through", "https://x/p/", `<link rel="canonical" href="">`, "", "https://x/p"},
		{"origin and path", "https://x/p/?q=1#frag", "", "", "https://x/p"},
		{"root", "https://x/", "", "", "https://x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.page, tt.html, tt.override)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	for in, want := range map[string]string{
		"https://x/p/":   "https://x/p",
		" https://x/p ":  "https://x/p",
		"https://x/p":    "https://x/p",
		"https://x/p//":  "https://x/p/",
		"":               "",
	} {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveRejectsRelativePage(t *testing.T) {
	if _, err := Resolve("/just/a/path", "", ""); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			_, _ = w.Write([]byte(`<html><head><link rel="canonical" href="https://news.example/article/"></head></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewResolver(time.Second, WithHTTPClient(srv.Client()))

	got, err := r.Fetch(context.Background(), srv.URL+"/article?utm=1")
	if err != nil || got != "https://news.example/article" {
		t.Fatalf("Fetch = %q, %v", got, err)
	}

	got, err = r.Fetch(context.Background(), srv.URL+"/missing/")
	if err != nil || got != srv.URL+"/missing" {
		t.Fatalf("Fetch fallback = %q, %v", got, err)
	}
}

func TestGuardedClientRefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<link rel="canonical" href="https://leak.example/">`))
	}))
	defer srv.Close()

	got, err := NewResolver(time.Second).Fetch(context.Background(), srv.URL+"/p")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got == "https://leak.example" {
		t.Fatalf("guarded client must not reach loopback")
	}
}

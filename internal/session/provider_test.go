package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var testSecret = []byte("test-secret")

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestAuth0ProviderParsesSubject(t *testing.T) {
	p := NewAuth0Provider(Auth0Config{Domain: "tenant.eu.auth0.com", ClientID: "client", Secret: testSecret})
	tok := signed(t, jwt.MapClaims{
		"sub":     "google-oauth2|12345",
		"aud":     "client",
		"iss":     "https://tenant.eu.auth0.com/",
		"exp":     time.Now().Add(time.Hour).Unix(),
		"name":    "Ann",
		"email":   "ann@example.com",
		"picture": "https://img/ann.png",
	})

	prof, err := p.Authenticate(context.Background(), tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if prof.ProviderID != "12345" || prof.Email != "ann@example.com" || prof.DisplayName != "Ann" {
		t.Fatalf("unexpected profile: %+v", prof)
	}
}

func TestAuth0ProviderEmailFallback(t *testing.T) {
	p := NewAuth0Provider(Auth0Config{Secret: testSecret})
	tok := signed(t, jwt.MapClaims{
		"sub":      "twitter|777",
		"exp":      time.Now().Add(time.Hour).Unix(),
		"nickname": "seven",
	})

	prof, err := p.Authenticate(context.Background(), tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if prof.Email != "777@unknown.email" || prof.DisplayName != "seven" {
		t.Fatalf("unexpected profile: %+v", prof)
	}
}

func TestAuth0ProviderRejectsBadTokens(t *testing.T) {
	p := NewAuth0Provider(Auth0Config{ClientID: "client", Secret: testSecret})

	cases := map[string]jwt.MapClaims{
		"expired":      {"sub": "a|1", "aud": "client", "exp": time.Now().Add(-time.Hour).Unix()},
		"wrong aud":    {"sub": "a|1", "aud": "other", "exp": time.Now().Add(time.Hour).Unix()},
		"missing exp":  {"sub": "a|1", "aud": "client"},
		"missing subj": {"aud": "client", "exp": time.Now().Add(time.Hour).Unix()},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Authenticate(context.Background(), signed(t, claims))
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestOAuthProviderExchangesCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "the-code" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"fb-9","name":"Bob","email":"bob@example.com","picture":{"data":{"url":"https://img/bob"}}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOAuthProvider("facebook", &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
	}, srv.URL+"/me", srv.Client())

	prof, err := p.Authenticate(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if prof.ProviderID != "fb-9" || prof.Email != "bob@example.com" || prof.Image != "https://img/bob" || prof.AccessToken != "at-1" {
		t.Fatalf("unexpected profile: %+v", prof)
	}
}

func TestOAuthProviderUserInfoFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer"}`))
			return
		}
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewOAuthProvider("google", &oauth2.Config{
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
	}, srv.URL+"/userinfo", srv.Client())

	if _, err := p.Authenticate(context.Background(), "code"); err == nil {
		t.Fatalf("expected error for failing userinfo")
	}
}

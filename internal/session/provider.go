package session

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"github.com/willemliu/universal-comments/internal/comment/model"
)

type Provider interface {
	Name() string
	Authenticate(ctx context.Context, credential string) (model.Profile, error)
}

var ErrInvalidToken = errors.New("invalid token")

type Auth0Config struct {
	Domain   string
	ClientID string
	// Secret verifies HS256 tokens; PublicKey verifies RS256 ones.
	Secret    []byte
	PublicKey *rsa.PublicKey
}

type Auth0Provider struct {
	cfg Auth0Config
}

func NewAuth0Provider(cfg Auth0Config) *Auth0Provider {
	return &Auth0Provider{cfg: cfg}
}

type auth0Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Picture  string `json:"picture"`
}

func (p *Auth0Provider) Name() string { return "auth0" }

// Authenticate verifies an Auth0 ID token. The provider id is the part of
// sub after the connection prefix ("google-oauth2|123" yields "123").
func (p *Auth0Provider) Authenticate(ctx context.Context, idToken string) (model.Profile, error) {
	_ = ctx

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if p.cfg.ClientID != "" {
		opts = append(opts, jwt.WithAudience(p.cfg.ClientID))
	}
	if p.cfg.Domain != "" {
		opts = append(opts, jwt.WithIssuer("https://"+strings.TrimSuffix(p.cfg.Domain, "/")+"/"))
	}

	claims := &auth0Claims{}
	token, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(p.cfg.Secret) == 0 {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return p.cfg.Secret, nil
		case *jwt.SigningMethodRSA:
			if p.cfg.PublicKey == nil {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return p.cfg.PublicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	}, opts...)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return model.Profile{}, ErrInvalidToken
	}

	id := claims.Subject
	if i := strings.LastIndex(id, "|"); i >= 0 {
		id = id[i+1:]
	}
	email := claims.Email
	if email == "" {
		email = id + "@unknown.email"
	}
	name := claims.Name
	if name == "" {
		name = claims.Nickname
	}

	return model.Profile{
		ProviderID:  id,
		DisplayName: name,
		Email:       email,
		Image:       claims.Picture,
		AccessToken: idToken,
	}, nil
}

// OAuthProvider exchanges an authorization code and reads the provider's
// userinfo endpoint.
type OAuthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func NewOAuthProvider(name string, cfg *oauth2.Config, userInfoURL string, hc *http.Client) *OAuthProvider {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OAuthProvider{name: name, config: cfg, userInfoURL: userInfoURL, httpClient: hc}
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *OAuthProvider {
	return NewOAuthProvider("google", &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}, "https://www.googleapis.com/oauth2/v2/userinfo", nil)
}

func NewFacebookProvider(clientID, clientSecret, redirectURL string) *OAuthProvider {
	return NewOAuthProvider("facebook", &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"email", "public_profile"},
		Endpoint:     facebook.Endpoint,
	}, "https://graph.facebook.com/me?fields=id,name,email,picture", nil)
}

func (p *OAuthProvider) Name() string { return p.name }

// AuthCodeURL is where the browser is sent to start a login.
func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

type userInfo struct {
	ID      string          `json:"id"`
	Sub     string          `json:"sub"`
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Picture json.RawMessage `json:"picture"`
}

// picture is a plain URL for Google and {"data":{"url":...}} for Facebook.
func (u userInfo) picture() string {
	if len(u.Picture) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(u.Picture, &s); err == nil {
		return s
	}
	var fb struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(u.Picture, &fb); err == nil {
		return fb.Data.URL
	}
	return ""
}

func (p *OAuthProvider) Authenticate(ctx context.Context, code string) (model.Profile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return model.Profile{}, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return model.Profile{}, err
	}
	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return model.Profile{}, fmt.Errorf("userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.Profile{}, fmt.Errorf("userinfo: status %d: %s", resp.StatusCode, body)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return model.Profile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	id := info.ID
	if id == "" {
		id = info.Sub
	}

	return model.Profile{
		ProviderID:  id,
		DisplayName: info.Name,
		Email:       info.Email,
		Image:       info.picture(),
		AccessToken: tok.AccessToken,
	}, nil
}

// Providers looks providers up by name.
type Providers map[string]Provider

func (ps Providers) Add(p Provider) {
	if p != nil {
		ps[p.Name()] = p
	}
}

func (ps Providers) Get(name string) (Provider, bool) {
	p, ok := ps[name]
	return p, ok
}

// Package canonical derives the URL a comment thread is keyed on.
package canonical

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/doyensec/safeurl"
)

var ErrInvalidURL = errors.New("invalid page url")

// maxPageSize bounds how much of a fetched page is parsed for the link tag.
const maxPageSize = 2 << 20

// Resolve picks the thread key for a page: override when set, else the
// document's <link rel="canonical"> href, else origin plus path. A trailing
// slash is stripped.
func Resolve(pageURL, html, override string) (string, error) {
	if o := strings.TrimSpace(override); o != "" {
		return strip(o), nil
	}

	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, pageURL)
	}

	if html != "" {
		if href, ok := linkHref(strings.NewReader(html)); ok {
			return strip(absolute(base, href)), nil
		}
	}
	return strip(base.Scheme + "://" + base.Host + base.Path), nil
}

func linkHref(r io.Reader) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", false
	}
	var href string
	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("rel", "")), "canonical") {
			return true
		}
		href = strings.TrimSpace(s.AttrOr("href", ""))
		return href == ""
	})
	return href, href != ""
}

func absolute(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// Normalize turns a client supplied canonical url into the thread key the
// resolver would have produced for it.
func Normalize(u string) string {
	return strip(strings.TrimSpace(u))
}

func strip(u string) string {
	return strings.TrimSuffix(u, "/")
}

// Resolver fetches pages server side. Its client refuses private and
// loopback addresses.
type Resolver struct {
	client *http.Client
}

type Option func(*Resolver)

// WithHTTPClient replaces the guarded client; tests use it to reach
// httptest servers on loopback.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

func NewResolver(timeout time.Duration, opts ...Option) *Resolver {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	r := &Resolver{client: safeurl.Client(config).Client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch downloads pageURL and resolves its canonical URL. A page that cannot
// be fetched still resolves to its origin plus path.
func (r *Resolver) Fetch(ctx context.Context, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Resolve(pageURL, "", "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Resolve(pageURL, "", "")
	}
	if href, ok := linkHref(io.LimitReader(resp.Body, maxPageSize)); ok {
		return strip(absolute(base, href)), nil
	}
	return Resolve(pageURL, "", "")
}

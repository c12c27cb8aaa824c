package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/cache"
	handler "github.com/willemliu/universal-comments/internal/comment/handler/http"
	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/service"
	inm "github.com/willemliu/universal-comments/internal/comment/storage/inmemory"
	"github.com/willemliu/universal-comments/internal/notify"
	"github.com/willemliu/universal-comments/internal/session"
)

const page = "https://news.example/article"

type fakeProvider struct{}

func (fakeProvider) Name() string { return "test" }

func (fakeProvider) Authenticate(_ context.Context, credential string) (model.Profile, error) {
	if credential != "good" {
		return model.Profile{}, session.ErrInvalidToken
	}
	return model.Profile{ProviderID: "1", DisplayName: "Ann", Email: "ann@example.com"}, nil
}

type fakeMailer struct {
	err  error
	sent []notify.Message
}

func (m *fakeMailer) Send(_ context.Context, msgs []notify.Message) error {
	m.sent = append(m.sent, msgs...)
	return m.err
}

type fakeCanonical struct{}

func (fakeCanonical) Fetch(_ context.Context, pageURL string) (string, error) {
	return strings.TrimSuffix(pageURL, "/"), nil
}

type failingComments struct{ service.CommentService }

func (failingComments) Count(context.Context, string) (int, error) {
	return 0, errors.New("backend down")
}

type env struct {
	srv    *httptest.Server
	repo   *inm.Repo
	mailer *fakeMailer
}

func newEnv(t *testing.T, comments func(service.CommentService) service.CommentService) env {
	t.Helper()
	repo := inm.New()
	mailer := &fakeMailer{}
	counts, err := cache.NewLRUCountCache(16, time.Minute)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	var svc service.CommentService = service.New(repo)
	if comments != nil {
		svc = comments(svc)
	}

	providers := session.Providers{}
	providers.Add(fakeProvider{})

	h := handler.New(handler.Deps{
		Comments:  svc,
		Users:     repo,
		Notifier:  notify.NewService(repo, mailer, notify.Address{Email: "noreply@example.com"}),
		Providers: providers,
		Counts:    counts,
		Canonical: fakeCanonical{},
		Log:       zerolog.Nop(),
	})
	srv := httptest.NewServer(h.Routes(handler.RouterConfig{CORSOrigin: "https://news.example", Log: zerolog.Nop()}))
	t.Cleanup(srv.Close)
	return env{srv: srv, repo: repo, mailer: mailer}
}

func (e env) seed(t *testing.T) (poster model.User, c model.Comment) {
	t.Helper()
	ctx := context.Background()
	fan, _ := e.repo.UpsertUser(ctx, model.Profile{Email: "fan@example.com", DisplayName: "Fan"})
	poster, _ = e.repo.UpsertUser(ctx, model.Profile{Email: "poster@example.com", DisplayName: "Poster"})
	root, err := e.repo.InsertComment(ctx, model.NewComment{URL: page, AuthorUUID: fan.UUID, Text: "root"})
	if err != nil {
		t.Fatalf("insert root: %v", err)
	}
	c, err = e.repo.InsertComment(ctx, model.NewComment{URL: page, AuthorUUID: poster.UUID, Text: "reply", ParentID: &root.ID})
	if err != nil {
		t.Fatalf("insert reply: %v", err)
	}
	return poster, c
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil)
	res, err := http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]string
	decode(t, res, &body)
	if res.StatusCode != http.StatusOK || body["result"] != "ok" {
		t.Fatalf("unexpected health: %d %v", res.StatusCode, body)
	}
}

func TestCountIsCached(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	get := func() (int, *http.Response) {
		res, err := http.Get(e.srv.URL + "/api/count?canonical=" + page)
		if err != nil {
			t.Fatalf("get count: %v", err)
		}
		var body struct{ Count int }
		decode(t, res, &body)
		return body.Count, res
	}

	n, res := get()
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if got := res.Header.Get("Cache-Control"); got != "max-age=0, s-maxage=60, stale-while-revalidate" {
		t.Fatalf("Cache-Control = %q", got)
	}

	u, _ := e.repo.UpsertUser(context.Background(), model.Profile{Email: "late@example.com"})
	_, _ = e.repo.InsertComment(context.Background(), model.NewComment{URL: page, AuthorUUID: u.UUID, Text: "late"})
	if n, _ := get(); n != 2 {
		t.Fatalf("expected cached 2, got %d", n)
	}
}

func TestCountBackendErrorAnswersZero(t *testing.T) {
	e := newEnv(t, func(s service.CommentService) service.CommentService { return failingComments{s} })

	res, err := http.Get(e.srv.URL + "/api/count?canonical=" + page)
	if err != nil {
		t.Fatalf("get count: %v", err)
	}
	var body map[string]int
	decode(t, res, &body)
	if res.StatusCode != http.StatusOK || body["count"] != 0 {
		t.Fatalf("expected 200 {count:0}, got %d %v", res.StatusCode, body)
	}
}

func TestCommentsReturnsTree(t *testing.T) {
	e := newEnv(t, nil)
	_, reply := e.seed(t)

	res, err := http.Get(e.srv.URL + "/api/comments?canonical=" + page)
	if err != nil {
		t.Fatalf("get comments: %v", err)
	}
	var tp model.TreePage
	decode(t, res, &tp)
	if tp.Total != 2 || len(tp.Items) != 1 {
		t.Fatalf("expected one root of two comments, got %+v", tp)
	}
	if len(tp.Items[0].Children) != 1 || tp.Items[0].Children[0].ID != reply.ID {
		t.Fatalf("reply should nest under root: %+v", tp.Items[0])
	}

	res, _ = http.Get(e.srv.URL + "/api/comments?canonical=" + page + "&offset=-1")
	_ = res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative offset, got %d", res.StatusCode)
	}
}

func TestTrailingSlashSharesPartition(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	res, err := http.Get(e.srv.URL + "/api/count?canonical=" + page + "/")
	if err != nil {
		t.Fatalf("get count: %v", err)
	}
	var count struct{ Count int }
	decode(t, res, &count)
	if count.Count != 2 {
		t.Fatalf("expected 2 for trailing slash form, got %d", count.Count)
	}

	res, err = http.Get(e.srv.URL + "/api/comments?canonical=" + page + "/")
	if err != nil {
		t.Fatalf("get comments: %v", err)
	}
	var tp model.TreePage
	decode(t, res, &tp)
	if tp.Total != 2 || len(tp.Items) != 1 {
		t.Fatalf("expected the same thread for trailing slash form, got %+v", tp)
	}
}

func TestEmbedRendersReadOnly(t *testing.T) {
	e := newEnv(t, nil)
	_, reply := e.seed(t)

	res, err := http.Get(e.srv.URL + "/embed?canonical=" + page)
	if err != nil {
		t.Fatalf("get embed: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	html := string(body)

	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected content type %q", res.Header.Get("Content-Type"))
	}
	if !strings.Contains(html, `id="comment-`+reply.ID+`"`) {
		t.Fatalf("reply missing from embed:\n%s", html)
	}
	if strings.Contains(html, `data-action="reply"`) || strings.Contains(html, `data-action="vote"`) {
		t.Fatalf("embed must not offer write actions:\n%s", html)
	}
	if res.Header.Get("X-Has-Next") != "false" {
		t.Fatalf("X-Has-Next = %q", res.Header.Get("X-Has-Next"))
	}
}

func TestMail(t *testing.T) {
	e := newEnv(t, nil)
	poster, c := e.seed(t)

	body, _ := json.Marshal(map[string]any{"url": page, "uuid": poster.UUID, "commentUuid": c.ID})
	res, err := http.Post(e.srv.URL+"/api/mail", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post mail: %v", err)
	}
	var out struct {
		Status   string
		Messages []notify.Message
	}
	decode(t, res, &out)
	if res.StatusCode != http.StatusOK || out.Status != "OK" || len(out.Messages) != 1 {
		t.Fatalf("unexpected response: %d %+v", res.StatusCode, out)
	}
	if len(e.mailer.sent) != 1 || e.mailer.sent[0].To[0].Email != "fan@example.com" {
		t.Fatalf("unexpected mail: %+v", e.mailer.sent)
	}

	// Query parameters are accepted as well.
	res, err = http.Get(e.srv.URL + "/api/mail?url=" + page + "&uuid=" + poster.UUID + "&commentUuid=" + c.ID)
	if err != nil {
		t.Fatalf("get mail: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for query form, got %d", res.StatusCode)
	}
}

func TestMailErrors(t *testing.T) {
	e := newEnv(t, nil)
	poster, c := e.seed(t)

	res, _ := http.Post(e.srv.URL+"/api/mail/circle", "application/json",
		strings.NewReader(`{"url":"`+page+`","uuid":"`+poster.UUID+`","commentUuid":"`+c.ID+`"}`))
	_ = res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("circle mail without circleId: expected 400, got %d", res.StatusCode)
	}

	circle, _ := e.repo.CreateCircle(context.Background(), poster.UUID, "private", "pw")
	secret, _ := e.repo.InsertComment(context.Background(), model.NewComment{URL: page, AuthorUUID: poster.UUID, Text: "members only", CircleID: &circle.ID})
	res, _ = http.Post(e.srv.URL+"/api/mail", "application/json",
		strings.NewReader(`{"url":"`+page+`","uuid":"`+poster.UUID+`","commentUuid":"`+secret.ID+`"}`))
	_ = res.Body.Close()
	if res.StatusCode != http.StatusBadRequest || len(e.mailer.sent) != 0 {
		t.Fatalf("circle comment on public mail route: expected 400 and no mail, got %d %d", res.StatusCode, len(e.mailer.sent))
	}

	e.mailer.err = errors.New("mail provider down")
	res, _ = http.Post(e.srv.URL+"/api/mail", "application/json",
		strings.NewReader(`{"url":"`+page+`","uuid":"`+poster.UUID+`","commentUuid":"`+c.ID+`"}`))
	var out map[string]string
	decode(t, res, &out)
	if res.StatusCode != http.StatusGatewayTimeout || !strings.Contains(out["error"], "mail provider down") {
		t.Fatalf("expected 504 with error, got %d %v", res.StatusCode, out)
	}
}

func TestSession(t *testing.T) {
	e := newEnv(t, nil)

	post := func(body string) *http.Response {
		res, err := http.Post(e.srv.URL+"/api/session", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post session: %v", err)
		}
		return res
	}

	var u model.User
	res := post(`{"provider":"test","credential":"good"}`)
	decode(t, res, &u)
	if res.StatusCode != http.StatusOK || u.UUID == "" || !u.ReceiveMail || u.Image != session.DefaultImage {
		t.Fatalf("unexpected login: %d %+v", res.StatusCode, u)
	}

	tests := []struct {
		body string
		want int
	}{
		{`{"provider":"nope","credential":"good"}`, http.StatusBadRequest},
		{`{"provider":"test","credential":"bad"}`, http.StatusUnauthorized},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		res := post(tt.body)
		_ = res.Body.Close()
		if res.StatusCode != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.body, tt.want, res.StatusCode)
		}
	}
}

func TestCanonicalAndCORS(t *testing.T) {
	e := newEnv(t, nil)

	res, err := http.Get(e.srv.URL + "/api/canonical?url=https://x/p/")
	if err != nil {
		t.Fatalf("get canonical: %v", err)
	}
	var out map[string]string
	decode(t, res, &out)
	if out["canonical"] != "https://x/p" {
		t.Fatalf("unexpected canonical: %v", out)
	}
	if res.Header.Get("Access-Control-Allow-Origin") != "https://news.example" {
		t.Fatalf("missing CORS header")
	}

	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/mail", nil)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", res.StatusCode)
	}
}

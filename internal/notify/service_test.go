package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/service"
	"github.com/willemliu/universal-comments/internal/comment/storage/inmemory"
)

var _ service.Notifier = (*Service)(nil)

type fakeMailer struct {
	batches [][]Message
	err     error
}

func (m *fakeMailer) Send(_ context.Context, msgs []Message) error {
	m.batches = append(m.batches, msgs)
	return m.err
}

var from = Address{Email: "noreply@example.com", Name: "Universal Comments"}

func seed(t *testing.T) (*inmemory.Repo, model.User, model.Comment) {
	t.Helper()
	ctx := context.Background()
	repo := inmemory.New()

	fan, _ := repo.UpsertUser(ctx, model.Profile{Email: "fan@example.com", DisplayName: "Fan"})
	poster, _ := repo.UpsertUser(ctx, model.Profile{Email: "poster@example.com", DisplayName: "Poster"})
	if _, err := repo.InsertComment(ctx, model.NewComment{URL: "https://x/p", AuthorUUID: fan.UUID, Text: "first"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	c, err := repo.InsertComment(ctx, model.NewComment{URL: "https://x/p", AuthorUUID: poster.UUID, Text: "<b>new</b> one"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return repo, poster, c
}

func TestNotifyPublicThread(t *testing.T) {
	repo, poster, c := seed(t)
	mailer := &fakeMailer{}
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_sent_total"})
	svc := NewService(repo, mailer, from, WithSentCounter(counter))

	msgs, err := svc.Notify(context.Background(), Request{URL: "https://x/p", UUID: poster.UUID, CommentUUID: c.ID})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(msgs) != 1 || len(mailer.batches) != 1 {
		t.Fatalf("expected one message in one batch, got %d/%d", len(msgs), len(mailer.batches))
	}
	msg := msgs[0]
	if msg.To[0].Email != "fan@example.com" || msg.Subject != "New comment on https://x/p" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !strings.Contains(msg.TextPart, `"<b>new</b> one"`) {
		t.Fatalf("text part should carry the raw comment, got %q", msg.TextPart)
	}
	if strings.Contains(msg.HTMLPart, "<b>new</b>") {
		t.Fatalf("html part must escape the comment, got %q", msg.HTMLPart)
	}
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Fatalf("expected counter 1, got %v", got)
	}
}

func TestNotifyCircleSubject(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.New()
	owner, _ := repo.UpsertUser(ctx, model.Profile{Email: "owner@example.com"})
	member, _ := repo.UpsertUser(ctx, model.Profile{Email: "member@example.com"})
	circle, _ := repo.CreateCircle(ctx, owner.UUID, "book club", "pw")
	if _, err := repo.JoinCircle(ctx, member.UUID, "book club", "pw"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := repo.InsertComment(ctx, model.NewComment{URL: "u", AuthorUUID: member.UUID, Text: "hi", CircleID: &circle.ID}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	c, _ := repo.InsertComment(ctx, model.NewComment{URL: "u", AuthorUUID: owner.UUID, Text: "hello", CircleID: &circle.ID})

	svc := NewService(repo, &fakeMailer{}, from)
	if err := svc.CommentPosted(ctx, c); err != nil {
		t.Fatalf("CommentPosted: %v", err)
	}
	msgs, err := svc.Notify(ctx, Request{URL: "u", UUID: owner.UUID, CommentUUID: c.ID, CircleID: &circle.ID})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Subject != "New comment in circle: book club" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if !strings.Contains(msgs[0].TextPart, "[book club]") {
		t.Fatalf("text should name the circle: %q", msgs[0].TextPart)
	}
}

func TestNotifyRejectsMismatchedComment(t *testing.T) {
	ctx := context.Background()
	repo, poster, public := seed(t)
	circle, _ := repo.CreateCircle(ctx, poster.UUID, "private", "pw")
	secret, err := repo.InsertComment(ctx, model.NewComment{URL: "https://x/p", AuthorUUID: poster.UUID, Text: "members only", CircleID: &circle.ID})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	mailer := &fakeMailer{}
	svc := NewService(repo, mailer, from)
	cases := map[string]Request{
		"circle comment on public thread": {URL: "https://x/p", UUID: poster.UUID, CommentUUID: secret.ID},
		"other author":                    {URL: "https://x/p", UUID: "someone-else", CommentUUID: public.ID},
		"other url":                       {URL: "https://x/q", UUID: poster.UUID, CommentUUID: public.ID},
		"public comment in circle":        {URL: "https://x/p", UUID: poster.UUID, CommentUUID: public.ID, CircleID: &circle.ID},
	}
	for name, req := range cases {
		if _, err := svc.Notify(ctx, req); !errors.Is(err, ErrCommentMismatch) {
			t.Fatalf("%s: expected ErrCommentMismatch, got %v", name, err)
		}
	}
	if len(mailer.batches) != 0 {
		t.Fatalf("expected no mail, got %d batches", len(mailer.batches))
	}

	msgs, err := svc.Notify(ctx, Request{URL: "https://x/p/", UUID: poster.UUID, CommentUUID: public.ID})
	if err != nil || len(msgs) != 1 {
		t.Fatalf("trailing slash url should match: %v %v", msgs, err)
	}
}

func TestNotifyNoRecipientsSkipsMailer(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.New()
	u, _ := repo.UpsertUser(ctx, model.Profile{Email: "solo@example.com"})
	c, _ := repo.InsertComment(ctx, model.NewComment{URL: "u", AuthorUUID: u.UUID, Text: "alone"})

	mailer := &fakeMailer{}
	msgs, err := NewService(repo, mailer, from).Notify(ctx, Request{URL: "u", UUID: u.UUID, CommentUUID: c.ID})
	if err != nil || len(msgs) != 0 || len(mailer.batches) != 0 {
		t.Fatalf("expected no mail, got %v %v %d", msgs, err, len(mailer.batches))
	}
}

func TestNotifyErrors(t *testing.T) {
	repo, poster, c := seed(t)

	if _, err := NewService(repo, &fakeMailer{}, from).Notify(context.Background(), Request{URL: "u"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	boom := errors.New("smtp down")
	_, err := NewService(repo, &fakeMailer{err: boom}, from).Notify(context.Background(), Request{URL: "https://x/p", UUID: poster.UUID, CommentUUID: c.ID})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mailer error, got %v", err)
	}
}

func TestSMTPMailerBuildsMultipart(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "mail.example.com", Port: "587", Username: "u", Password: "p"})
	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	err := m.Send(context.Background(), []Message{{
		From:     from,
		To:       []Address{{Email: "a@example.com", Name: "A"}},
		Subject:  "New comment on u",
		TextPart: "plain",
		HTMLPart: "<p>html</p>",
	}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "mail.example.com:587" || len(gotTo) != 1 || gotTo[0] != "a@example.com" {
		t.Fatalf("unexpected envelope: %s %v", gotAddr, gotTo)
	}
	body := string(gotMsg)
	for _, want := range []string{"Subject: New comment on u", "multipart/alternative", "text/plain", "<p>html</p>"} {
		if !strings.Contains(body, want) {
			t.Fatalf("message missing %q:\n%s", want, body)
		}
	}
}

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/willemliu/universal-comments/internal/canonical"
	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/comment/storage"
)

var (
	ErrInvalidRequest = errors.New("url, uuid and commentUuid are required")
	// ErrCommentMismatch is returned when the referenced comment was not
	// posted by uuid on url within the requested circle.
	ErrCommentMismatch = errors.New("comment does not match request")
)

// Request identifies a freshly posted comment.
type Request struct {
	URL         string  `json:"url"`
	UUID        string  `json:"uuid"`
	CommentUUID string  `json:"commentUuid"`
	CircleID    *string `json:"circleId,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.URL) == "" || r.UUID == "" || r.CommentUUID == "" {
		return ErrInvalidRequest
	}
	return nil
}

type Service struct {
	repo   storage.NotificationRepository
	mailer Mailer
	from   Address
	log    zerolog.Logger
	sent   prometheus.Counter
}

type Option func(*Service)

// WithSentCounter counts every message handed to the mailer.
func WithSentCounter(c prometheus.Counter) Option {
	return func(s *Service) { s.sent = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(repo storage.NotificationRepository, mailer Mailer, from Address, opts ...Option) *Service {
	s := &Service{repo: repo, mailer: mailer, from: from, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify mails every earlier commenter of the page (or circle) except the
// poster and returns the messages it sent.
func (s *Service) Notify(ctx context.Context, req Request) ([]Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	req.URL = canonical.Normalize(req.URL)

	comment, err := s.repo.CommentByID(ctx, req.CommentUUID)
	if err != nil {
		return nil, fmt.Errorf("comment %s: %w", req.CommentUUID, err)
	}
	if !matches(comment, req) {
		s.log.Warn().Str("url", req.URL).Str("comment", req.CommentUUID).Msg("notification request does not match comment")
		return nil, ErrCommentMismatch
	}
	recipients, err := s.repo.Recipients(ctx, model.RecipientQuery{
		URL:        req.URL,
		PosterUUID: req.UUID,
		CommentID:  req.CommentUUID,
		CircleID:   req.CircleID,
	})
	if err != nil {
		return nil, fmt.Errorf("recipients for %s: %w", req.URL, err)
	}

	msgs := make([]Message, 0, len(recipients))
	for _, rc := range recipients {
		msg, err := s.message(req.URL, comment, rc)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	if err := s.mailer.Send(ctx, msgs); err != nil {
		return nil, err
	}
	if s.sent != nil {
		s.sent.Add(float64(len(msgs)))
	}
	s.log.Info().Str("url", req.URL).Int("messages", len(msgs)).Msg("notifications sent")
	return msgs, nil
}

func matches(c model.Comment, req Request) bool {
	return c.URL == req.URL &&
		c.Author.UUID == req.UUID &&
		circleOf(c.CircleID) == circleOf(req.CircleID)
}

func circleOf(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

// CommentPosted notifies for a comment the widget just inserted.
func (s *Service) CommentPosted(ctx context.Context, c model.Comment) error {
	_, err := s.Notify(ctx, Request{
		URL:         c.URL,
		UUID:        c.Author.UUID,
		CommentUUID: c.ID,
		CircleID:    c.CircleID,
	})
	return err
}

type mailData struct {
	URL     string
	Comment string
	Circle  string
}

func (s *Service) message(url string, c model.Comment, rc model.Recipient) (Message, error) {
	data := mailData{URL: url, Comment: c.Body(), Circle: rc.CircleName}

	subject := "New comment on " + url
	if rc.CircleName != "" {
		subject = "New comment in circle: " + rc.CircleName
	}

	var text, html bytes.Buffer
	if err := textTemplate.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text mail: %w", err)
	}
	if err := htmlTemplate.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html mail: %w", err)
	}

	return Message{
		From:     s.from,
		To:       []Address{{Email: rc.Email, Name: rc.DisplayName}},
		Subject:  subject,
		TextPart: text.String(),
		HTMLPart: html.String(),
	}, nil
}

var textTemplate = texttemplate.Must(texttemplate.New("text").Parse(`
{{- if .Circle}}A new comment has been posted in the circle [{{.Circle}}] here: {{.URL}}.
{{- else}}A new comment has been posted here: {{.URL}}.{{end}}

"{{.Comment}}"

You're receiving this e-mail because you've left a comment at this url before.`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(`
<p>A new comment has been posted here: <a href="{{.URL}}" target="_blank" rel="noopener noreferrer">{{.URL}}</a>.</p>
{{- if .Circle}}
<h3>New comment in circle [{{.Circle}}]:</h3>
{{- else}}
<h3>New comment:</h3>
{{- end}}
<h2 style="text-align: center;">"{{.Comment}}"</h2>
<small>You're receiving this e-mail because you've left a comment at this url before.</small>`))

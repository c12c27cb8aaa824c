// Package notify e-mails earlier commenters when a new comment is posted on
// the same page or circle.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type Address struct {
	Email string `json:"Email"`
	Name  string `json:"Name"`
}

// Message mirrors the Mailjet v3.1 message shape so it can be echoed back to
// callers unchanged.
type Message struct {
	From     Address   `json:"From"`
	To       []Address `json:"To"`
	Subject  string    `json:"Subject"`
	TextPart string    `json:"TextPart"`
	HTMLPart string    `json:"HTMLPart"`
}

// Mailer sends a batch of messages.
type Mailer interface {
	Send(ctx context.Context, msgs []Message) error
}

// LogMailer only logs; it is used when no mail transport is configured.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msgs []Message) error {
	for _, msg := range msgs {
		for _, to := range msg.To {
			m.log.Info().Str("to", to.Email).Str("subject", msg.Subject).Msg("mail not sent, no transport configured")
		}
	}
	return nil
}

package notify

import (
	"context"
	"fmt"

	"github.com/mailjet/mailjet-apiv3-go/v4"
)

// MailjetMailer sends through the Mailjet transactional API (v3.1 send).
type MailjetMailer struct {
	client *mailjet.Client
}

func NewMailjetMailer(apiKey, secretKey string) *MailjetMailer {
	return &MailjetMailer{client: mailjet.NewMailjetClient(apiKey, secretKey)}
}

func (m *MailjetMailer) Send(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	info := make([]mailjet.InfoMessagesV31, 0, len(msgs))
	for _, msg := range msgs {
		to := make(mailjet.RecipientsV31, 0, len(msg.To))
		for _, a := range msg.To {
			to = append(to, mailjet.RecipientV31{Email: a.Email, Name: a.Name})
		}
		info = append(info, mailjet.InfoMessagesV31{
			From:     &mailjet.RecipientV31{Email: msg.From.Email, Name: msg.From.Name},
			To:       &to,
			Subject:  msg.Subject,
			TextPart: msg.TextPart,
			HTMLPart: msg.HTMLPart,
		})
	}

	messages := mailjet.MessagesV31{Info: info}
	if _, err := m.client.SendMailV31(&messages); err != nil {
		return fmt.Errorf("mailjet send: %w", err)
	}
	return nil
}

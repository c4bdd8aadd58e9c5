package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	ToEmail string
	Subject string
	Text    string
	HTML    string
}

// Render builds the customer email for job.
func Render(job Job) (Message, error) {
	switch job.Kind {
	case KindPaymentReceipt:
		amount := fmt.Sprintf("%s %s", job.Amount, strings.ToUpper(job.Currency))
		text := fmt.Sprintf("We received your payment of %s (invoice %s). Thank you!", amount, job.InvoiceID)
		return Message{
			Subject: "Payment received",
			Text:    text,
			HTML:    "<p>" + text + "</p>",
		}, nil
	case KindSubscriptionCanceled:
		text := "Your subscription has been canceled."
		if job.PeriodEnd != nil {
			text = fmt.Sprintf("Your subscription has been canceled. Access remains until %s.", job.PeriodEnd.Format(time.DateOnly))
		}
		return Message{
			Subject: "Subscription canceled",
			Text:    text,
			HTML:    "<p>" + text + "</p>",
		}, nil
	}
	return Message{}, fmt.Errorf("unknown notification kind %q", job.Kind)
}

type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridSender(apiKey, fromName, fromEmail string) *SendGridSender {
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromEmail),
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	to := mail.NewEmail("", msg.ToEmail)
	m := mail.NewSingleEmail(s.from, msg.Subject, to, msg.Text, msg.HTML)
	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

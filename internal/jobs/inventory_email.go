package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/rs/zerolog"
)

// TypeInventoryEmail sends the monthly inventory reminder with a per-recipient
// form link.
const TypeInventoryEmail = "inventory_email"

type inventoryEmailConfig struct {
	Recipients    []string          `json:"recipients"`
	FormURLs      map[string]string `json:"form_urls"`
	SubjectPrefix string            `json:"subject_prefix"`
	Location      string            `json:"location"`
}

// MailSender is the slice of the Mailgun client the job needs, extracted so
// tests can substitute a fake.
type MailSender interface {
	Send(ctx context.Context, m *mailgun.Message) (string, string, error)
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
}

// InventoryEmail reminds each configured recipient to fill in the inventory
// form for their location.
type InventoryEmail struct {
	From   string
	Sender MailSender
}

// NewInventoryEmail builds the job with a real Mailgun client. The job fails
// at run time, not construction time, when credentials are missing, so an
// unconfigured panel can still register it as disabled.
func NewInventoryEmail(domain, apiKey, from string) *InventoryEmail {
	j := &InventoryEmail{From: from}
	if domain != "" && apiKey != "" {
		j.Sender = mailgun.NewMailgun(domain, apiKey)
	}
	return j
}

func (j *InventoryEmail) Run(ctx context.Context, cfg json.RawMessage, logger zerolog.Logger) (Result, error) {
	var c inventoryEmailConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return Result{ExitCode: 1}, err
	}
	if j.Sender == nil {
		return Result{ExitCode: 1}, fmt.Errorf("inventory_email: mailgun is not configured")
	}
	if len(c.Recipients) == 0 {
		return Result{ExitCode: 1}, fmt.Errorf("inventory_email: recipients is required")
	}

	subject := strings.TrimSpace(c.SubjectPrefix)
	if subject == "" {
		subject = fmt.Sprintf("Monthly Inventory Check - %s", c.Location)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var sent []string
	for _, recipient := range c.Recipients {
		body := fmt.Sprintf(
			"Hi,\n\nIt's time for the monthly inventory check for %s.\n", c.Location)
		if url := c.FormURLs[recipient]; url != "" {
			body += fmt.Sprintf("\nPlease fill in the form: %s\n", url)
		}
		body += "\nThanks!\n"

		msg := j.Sender.NewMessage(j.From, subject, body, recipient)
		_, id, err := j.Sender.Send(ctx, msg)
		if err != nil {
			return Result{
				ExitCode: 1,
				Output:   fmt.Sprintf("sent to: %s", strings.Join(sent, ", ")),
			}, fmt.Errorf("inventory_email: send to %s: %w", recipient, err)
		}
		logger.Info().Str("recipient", recipient).Str("message_id", id).Msg("inventory email queued")
		sent = append(sent, recipient)
	}

	return Result{Output: fmt.Sprintf("sent %d emails: %s", len(sent), strings.Join(sent, ", "))}, nil
}

package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Dialer is the subset of gomail.Dialer this package needs.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers through a plain SMTP relay. It generates its own
// Message-ID so follow-ups can still reference the prior email; the
// receipt carries no thread ID.
type SMTPSender struct {
	dialer   Dialer
	retryCfg resilience.RetryConfig
}

// NewSMTPSender creates an SMTP-backed sender.
func NewSMTPSender(dialer Dialer, retryCfg resilience.RetryConfig) *SMTPSender {
	// Address rejections are final; only transport faults retry.
	retryCfg.ShouldRetry = func(err error) bool {
		return resilience.IsTransient(err) && !resilience.IsPermanentAddress(err)
	}
	retryCfg.OnRetry = resilience.RetryLogger("smtp", "send")
	return &SMTPSender{dialer: dialer, retryCfg: retryCfg}
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	messageID := newMessageID(msg.FromEmail)

	m, _, err := buildMIME(msg)
	if err != nil {
		return nil, err
	}
	m.SetHeader("Message-ID", messageID)

	err = resilience.Do(ctx, s.retryCfg, func(_ context.Context) error {
		return s.dialer.DialAndSend(m)
	})
	if err != nil {
		if resilience.IsPermanentAddress(err) {
			return nil, resilience.NewPermanentAddressError(
				eris.Wrapf(err, "dispatch: smtp send to %s", msg.ToEmail), 0)
		}
		return nil, eris.Wrapf(err, "dispatch: smtp send to %s", msg.ToEmail)
	}
	return &Receipt{MessageID: messageID}, nil
}

func newMessageID(fromEmail string) string {
	domain := "localhost"
	if _, d, ok := strings.Cut(fromEmail, "@"); ok && d != "" {
		domain = d
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}

// Package dispatch sends composed outreach emails over Gmail or SMTP.
// Gmail is preferred because it returns thread IDs that reply detection
// needs; SMTP is the fallback when no Gmail token is configured.
package dispatch

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/gmail"
)

// Message is one outbound email, already composed and personalized.
type Message struct {
	FromName  string
	FromEmail string
	ToName    string
	ToEmail   string
	Subject   string
	Body      string

	// ThreadID continues an existing Gmail conversation when set.
	ThreadID string
	// InReplyTo is the Message-ID header of the previous email in the
	// thread, so follow-ups chain correctly in any mail client.
	InReplyTo string
}

// Receipt identifies a delivered message for later thread tracking.
// ThreadID is empty on transports that have no thread concept.
type Receipt struct {
	MessageID string
	ThreadID  string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
	Name() string
}

// NewSender picks the transport from configuration: Gmail when a token
// is present, otherwise SMTP.
func NewSender(cfg *config.Config) (Sender, error) {
	if cfg.Gmail.Token != "" {
		client := gmail.NewClient(cfg.Gmail.Token,
			gmail.WithBaseURL(cfg.Gmail.BaseURL),
			gmail.WithUserID(cfg.Gmail.UserID),
			gmail.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Gmail.TimeoutSecs) * time.Second,
			}),
		)
		return NewGmailSender(client, resilience.FromCircuitConfig(
			cfg.Resilience.CircuitFailureThreshold,
			cfg.Resilience.CircuitResetSecs,
		)), nil
	}
	if cfg.SMTP.Host != "" {
		dialer := gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
		return NewSMTPSender(dialer, resilience.FromRetryConfig(
			cfg.Resilience.MaxAttempts,
			cfg.Resilience.InitialBackoffMs,
			cfg.Resilience.MaxBackoffMs,
			cfg.Resilience.BackoffMultiplier,
			cfg.Resilience.JitterFraction,
		)), nil
	}
	return nil, eris.New("dispatch: no transport configured")
}

// buildMIME renders the message to RFC 2822 bytes.
func buildMIME(msg Message) (*gomail.Message, []byte, error) {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	m.SetAddressHeader("To", msg.ToEmail, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
		m.SetHeader("References", msg.InReplyTo)
	}
	m.SetBody("text/plain", msg.Body)

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, nil, eris.Wrap(err, "dispatch: render message")
	}
	return m, buf.Bytes(), nil
}

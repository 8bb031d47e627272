package dispatch

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/gmail"
)

// GmailSender delivers through the Gmail API. The API client already
// retries transient HTTP failures; the breaker here stops a send run
// early when Gmail keeps refusing us.
type GmailSender struct {
	client  gmail.Client
	breaker *resilience.CircuitBreaker
}

// NewGmailSender creates a Gmail-backed sender.
func NewGmailSender(client gmail.Client, breakerCfg resilience.CircuitBreakerConfig) *GmailSender {
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("dispatch: gmail circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &GmailSender{
		client:  client,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
	}
}

func (s *GmailSender) Name() string { return "gmail" }

func (s *GmailSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	_, raw, err := buildMIME(msg)
	if err != nil {
		return nil, err
	}

	sent, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*gmail.Message, error) {
		return s.client.Send(ctx, raw, msg.ThreadID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: gmail send to %s", msg.ToEmail)
	}
	return &Receipt{MessageID: sent.ID, ThreadID: sent.ThreadID}, nil
}

package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSendFailureRate AlertType = "send_failure_rate"
	AlertBounceRate      AlertType = "bounce_rate"
	AlertFollowupBacklog AlertType = "followup_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check send failure rate. Skip tiny samples.
	attempted := snap.EmailsSent + snap.EmailsFailed + snap.EmailsBounced
	if attempted >= 5 && snap.SendFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSendFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Send failure rate %.1f%% exceeds threshold %.1f%% (%d failed, %d bounced of %d attempted in last %dh)",
				snap.SendFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.EmailsFailed, snap.EmailsBounced, attempted, snap.LookbackHours,
			),
			Details: map[string]any{
				"fail_rate": snap.SendFailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.EmailsFailed,
				"bounced":   snap.EmailsBounced,
				"attempted": attempted,
			},
			Timestamp: now,
		})
	}

	// Check bounce rate on its own. Sustained bounces hurt sender
	// reputation long before the overall failure threshold trips.
	if attempted >= 5 && a.cfg.BounceRateThreshold > 0 {
		bounceRate := float64(snap.EmailsBounced) / float64(attempted)
		if bounceRate > a.cfg.BounceRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertBounceRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Bounce rate %.1f%% exceeds threshold %.1f%% (%d bounced of %d attempted in last %dh)",
					bounceRate*100, a.cfg.BounceRateThreshold*100,
					snap.EmailsBounced, attempted, snap.LookbackHours,
				),
				Details: map[string]any{
					"bounce_rate": bounceRate,
					"threshold":   a.cfg.BounceRateThreshold,
					"bounced":     snap.EmailsBounced,
					"attempted":   attempted,
				},
				Timestamp: now,
			})
		}
	}

	// Check follow-up backlog.
	if a.cfg.BacklogThreshold > 0 && snap.DueFollowups > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFollowupBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d follow-ups past due exceeds threshold %d",
				snap.DueFollowups, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"due_followups": snap.DueFollowups,
				"threshold":     a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

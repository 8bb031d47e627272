package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of outreach health.
type MetricsSnapshot struct {
	// Lead population (current, not windowed).
	LeadsTotal    int                      `json:"leads_total"`
	LeadsByStatus map[model.LeadStatus]int `json:"leads_by_status"`

	// Send activity within the lookback window.
	EmailsSent    int     `json:"emails_sent"`
	EmailsFailed  int     `json:"emails_failed"`
	EmailsBounced int     `json:"emails_bounced"`
	SendFailRate  float64 `json:"send_fail_rate"`
	Replies       int     `json:"replies"`
	ReplyRate     float64 `json:"reply_rate"`

	// Follow-up backlog as of collection time.
	DueFollowups int `json:"due_followups"`

	// Template performance (all time).
	ActiveTemplates      int     `json:"active_templates"`
	TopTemplate          string  `json:"top_template,omitempty"`
	TopTemplateReplyRate float64 `json:"top_template_reply_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of outreach metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	byStatus, err := c.store.CountLeadsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count leads")
	}
	snap.LeadsByStatus = byStatus
	for _, n := range byStatus {
		snap.LeadsTotal += n
	}

	// Email log rows come back newest first, so the window scan can
	// stop at the first row older than the cutoff.
	logs, err := c.store.ListEmailLogs(ctx, store.EmailLogFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list email logs")
	}
	for _, row := range logs {
		if row.SentAt.Before(cutoff) {
			break
		}
		switch row.Status {
		case model.EmailLogStatusSent:
			snap.EmailsSent++
		case model.EmailLogStatusFailed:
			snap.EmailsFailed++
		case model.EmailLogStatusBounced:
			snap.EmailsBounced++
		}
		if row.Replied {
			snap.Replies++
		}
	}
	attempted := snap.EmailsSent + snap.EmailsFailed + snap.EmailsBounced
	if attempted > 0 {
		snap.SendFailRate = float64(snap.EmailsFailed+snap.EmailsBounced) / float64(attempted)
	}
	if snap.EmailsSent > 0 {
		snap.ReplyRate = float64(snap.Replies) / float64(snap.EmailsSent)
	}

	due, err := c.store.CountDueFollowups(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count due followups")
	}
	snap.DueFollowups = due

	templates, err := c.store.ListTemplates(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list templates")
	}
	for i := range templates {
		t := &templates[i]
		if !t.Active {
			continue
		}
		snap.ActiveTemplates++
		if t.TotalSent == 0 {
			continue
		}
		if rate := t.ReplyRate(); snap.TopTemplate == "" || rate > snap.TopTemplateReplyRate {
			snap.TopTemplate = t.Name
			snap.TopTemplateReplyRate = rate
		}
	}

	return snap, nil
}

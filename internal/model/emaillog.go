package model

import "time"

// EmailLogStatus is the delivery outcome of a single send attempt.
type EmailLogStatus string

const (
	EmailLogStatusSent    EmailLogStatus = "sent"
	EmailLogStatusFailed  EmailLogStatus = "failed"
	EmailLogStatusBounced EmailLogStatus = "bounced"
	EmailLogStatusReplied EmailLogStatus = "replied"
)

// EmailLog is one row of the append-only send audit trail. Rows are
// never deleted; the only retroactive mutation is flagging a reply.
type EmailLog struct {
	ID                   string         `json:"id"`
	LeadID               string         `json:"lead_id"`
	LeadEmail            string         `json:"lead_email"`
	LeadName             string         `json:"lead_name"`
	Company              string         `json:"company,omitempty"`
	Subject              string         `json:"subject"`
	Body                 string         `json:"body"`
	TemplateUsed         string         `json:"template_used,omitempty"`
	SentAt               time.Time      `json:"sent_at"`
	MessageID            string         `json:"message_id,omitempty"`
	ThreadID             string         `json:"thread_id,omitempty"`
	FollowupStage        int            `json:"followup_stage"`
	FollowupScheduledFor *time.Time     `json:"followup_scheduled_for,omitempty"`
	Status               EmailLogStatus `json:"status"`
	Replied              bool           `json:"replied"`
	RepliedAt            *time.Time     `json:"replied_at,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
}

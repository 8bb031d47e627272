package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Sentinel errors shared by both drivers. Callers branch with errors.Is.
var (
	// ErrDuplicate means a lead with the same email already exists; the
	// existing record always wins.
	ErrDuplicate = eris.New("store: duplicate lead")
	// ErrStale means a conditional stage transition matched no row:
	// another process advanced the lead (or a reply landed) first.
	ErrStale = eris.New("store: stale stage transition")
	// ErrNotFound means the referenced row does not exist.
	ErrNotFound = eris.New("store: not found")
)

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Status        model.LeadStatus `json:"status,omitempty"`
	ReplyDetected *bool            `json:"reply_detected,omitempty"`
	Search        string           `json:"search,omitempty"`
	Limit         int              `json:"limit,omitempty"`
	Offset        int              `json:"offset,omitempty"`
}

// EmailLogFilter specifies criteria for listing email log rows.
type EmailLogFilter struct {
	LeadID string               `json:"lead_id,omitempty"`
	Status model.EmailLogStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// LeadAdvance carries the lead-side effects of one successful send. The
// store applies it only when the lead is still at the expected prior
// stage, together with the email log row, in a single transaction.
type LeadAdvance struct {
	Status           model.LeadStatus
	FollowupStage    int
	FollowupDueDate  *time.Time
	ThreadID         string
	LastMessageID    string
	LastEmailSubject string
	ContactedAt      time.Time
}

// Store defines the persistence interface for the outreach pipeline.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	CreateLeads(ctx context.Context, leads []model.Lead) (int, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error)
	UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error

	// Sequence selection and transitions
	SelectInitial(ctx context.Context, limit int) ([]model.Lead, error)
	SelectDueFollowups(ctx context.Context, now time.Time, limit int) ([]model.Lead, error)
	AdvanceLead(ctx context.Context, leadID string, fromStage int, adv LeadAdvance, log model.EmailLog) error
	MarkReplied(ctx context.Context, leadID string, at time.Time) error
	MarkUnresponsive(ctx context.Context, lastContactBefore time.Time) (int, error)
	RemoveDuplicateLeads(ctx context.Context) (int, error)

	// Email log
	AppendEmailLog(ctx context.Context, log *model.EmailLog) error
	ListEmailLogs(ctx context.Context, filter EmailLogFilter) ([]model.EmailLog, error)
	CountEmailsSentSince(ctx context.Context, since time.Time) (int, error)
	CountDueFollowups(ctx context.Context, now time.Time) (int, error)
	ListActiveThreads(ctx context.Context, limit int) ([]model.Lead, error)
	RecentReplies(ctx context.Context, since time.Time) ([]model.Lead, error)

	// Templates
	SeedTemplates(ctx context.Context, templates []model.Template) (int, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)
	GetTemplatesByStage(ctx context.Context, stage model.TemplateStage) ([]model.Template, error)
	RecordTemplateUse(ctx context.Context, id string, at time.Time) error
	RecordTemplateReply(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

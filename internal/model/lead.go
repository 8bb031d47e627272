package model

import "time"

// LeadStatus represents where a lead sits in the outreach lifecycle.
type LeadStatus string

const (
	LeadStatusNew          LeadStatus = "new"
	LeadStatusContacted    LeadStatus = "contacted"
	LeadStatusFollowup1    LeadStatus = "followup_1"
	LeadStatusFollowup2    LeadStatus = "followup_2"
	LeadStatusFollowup3    LeadStatus = "followup_3"
	LeadStatusReplied      LeadStatus = "replied"
	LeadStatusEngaged      LeadStatus = "engaged"
	LeadStatusUnresponsive LeadStatus = "unresponsive"
	LeadStatusUnsubscribed LeadStatus = "unsubscribed"
)

// LeadSource describes where a lead record came from.
type LeadSource string

const (
	LeadSourceApolloCSV LeadSource = "apollo_csv"
	LeadSourceLinkedIn  LeadSource = "linkedin"
	LeadSourceScraper   LeadSource = "scraper"
	LeadSourceManual    LeadSource = "manual"
	LeadSourceAPI       LeadSource = "api"
)

// MaxFollowupStage is the terminal stage; a lead at this stage is never
// scheduled again.
const MaxFollowupStage = 4

// Lead is a single outreach target, identified by lowercased email.
type Lead struct {
	ID              string       `json:"id"`
	FirstName       string       `json:"first_name"`
	LastName        string       `json:"last_name"`
	Email           string       `json:"email"`
	Company         string       `json:"company"`
	Industry        string       `json:"industry,omitempty"`
	Title           string       `json:"title,omitempty"`
	Source          LeadSource   `json:"source"`
	Status          LeadStatus   `json:"status"`
	FollowupStage   int          `json:"followup_stage"`
	FollowupDueDate *time.Time   `json:"followup_due_date,omitempty"`
	ReplyDetected   bool         `json:"reply_detected"`
	ReplyDetectedAt *time.Time   `json:"reply_detected_at,omitempty"`
	ThreadID        string       `json:"thread_id,omitempty"`
	LastMessageID   string       `json:"last_message_id,omitempty"`
	EmailsSent      int          `json:"emails_sent"`
	LastContactedAt *time.Time   `json:"last_contacted_at,omitempty"`
	LastEmailSubject string      `json:"last_email_subject,omitempty"`
	Metadata        LeadMetadata `json:"metadata"`
	Notes           string       `json:"notes,omitempty"`
	ImportedAt      time.Time    `json:"imported_at"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// LeadMetadata carries optional enrichment fields from the import source.
type LeadMetadata struct {
	Phone         string `json:"phone,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty"`
	Website       string `json:"website,omitempty"`
	EmployeeCount int    `json:"employee_count,omitempty"`
	Location      string `json:"location,omitempty"`
}

// FullName joins first and last name, tolerating either being empty.
func (l *Lead) FullName() string {
	switch {
	case l.FirstName == "":
		return l.LastName
	case l.LastName == "":
		return l.FirstName
	default:
		return l.FirstName + " " + l.LastName
	}
}

// InSequence reports whether the lead is still an active send target:
// not replied, not opted out, not past the final stage.
func (l *Lead) InSequence() bool {
	if l.ReplyDetected {
		return false
	}
	switch l.Status {
	case LeadStatusReplied, LeadStatusEngaged, LeadStatusUnsubscribed, LeadStatusUnresponsive:
		return false
	}
	return l.FollowupStage < MaxFollowupStage
}

// StatusForStage returns the lead status that a successful send at the
// given stage transitions to: stage 1 marks first contact, later stages
// record which follow-up went out.
func StatusForStage(stage int) LeadStatus {
	switch stage {
	case 1:
		return LeadStatusContacted
	case 2:
		return LeadStatusFollowup1
	case 3:
		return LeadStatusFollowup2
	default:
		return LeadStatusFollowup3
	}
}

// ValidLeadStatus reports whether s is a known lifecycle status.
func ValidLeadStatus(s LeadStatus) bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusFollowup1, LeadStatusFollowup2,
		LeadStatusFollowup3, LeadStatusReplied, LeadStatusEngaged,
		LeadStatusUnresponsive, LeadStatusUnsubscribed:
		return true
	}
	return false
}

package model

import "time"

// TemplateStage identifies which touch of the sequence a template serves.
type TemplateStage string

const (
	TemplateStageInitial   TemplateStage = "initial"
	TemplateStageFollowup1 TemplateStage = "followup_1"
	TemplateStageFollowup2 TemplateStage = "followup_2"
	TemplateStageFollowup3 TemplateStage = "followup_3"
)

// TemplateStageFor maps a numeric followup stage (1-4) to its template
// stage.
func TemplateStageFor(stage int) TemplateStage {
	switch stage {
	case 1:
		return TemplateStageInitial
	case 2:
		return TemplateStageFollowup1
	case 3:
		return TemplateStageFollowup2
	default:
		return TemplateStageFollowup3
	}
}

// Template is a pool of subject and body variants for one sequence
// stage. A send picks one variant of each at random.
type Template struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Stage        TemplateStage `json:"stage"`
	Subjects     []string      `json:"subjects"`
	Bodies       []string      `json:"bodies"`
	Active       bool          `json:"active"`
	TimesUsed    int           `json:"times_used"`
	LastUsedAt   *time.Time    `json:"last_used_at,omitempty"`
	TotalSent    int           `json:"total_sent"`
	TotalReplies int           `json:"total_replies"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ReplyRate is replies over sends, zero when nothing has been sent.
func (t *Template) ReplyRate() float64 {
	if t.TotalSent == 0 {
		return 0
	}
	return float64(t.TotalReplies) / float64(t.TotalSent)
}

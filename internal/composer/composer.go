// Package composer turns a lead and a sequence stage into a concrete
// subject and body: template pools with random variant selection, token
// personalization, and an optional AI-drafted fallback.
package composer

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

// Draft is a ready-to-send subject and body for one lead.
type Draft struct {
	Subject      string
	Body         string
	TemplateID   string
	TemplateName string
	AIDrafted    bool
}

// Composer selects and personalizes email content.
type Composer struct {
	store store.Store
	ai    anthropic.Client
	aiCfg config.AnthropicConfig
	seq   config.SequenceConfig

	// pick selects an index in [0,n); swapped out in tests.
	pick func(n int) int
}

// New creates a composer. ai may be nil, which disables AI drafting.
func New(st store.Store, ai anthropic.Client, cfg *config.Config) *Composer {
	return &Composer{
		store: st,
		ai:    ai,
		aiCfg: cfg.Anthropic,
		seq:   cfg.Sequence,
		pick:  rand.Intn,
	}
}

// ComposeForStage builds the email for a lead at the given stage (1-4).
// Template pools win; the AI path only runs when no active template
// covers the stage.
func (c *Composer) ComposeForStage(ctx context.Context, lead model.Lead, stage int) (*Draft, error) {
	tplStage := model.TemplateStageFor(stage)

	templates, err := c.store.GetTemplatesByStage(ctx, tplStage)
	if err != nil {
		return nil, eris.Wrapf(err, "composer: load templates for %s", tplStage)
	}
	if len(templates) == 0 {
		if c.ai != nil {
			return c.aiDraft(ctx, lead, stage)
		}
		return nil, eris.Errorf("composer: no active templates for stage %s", tplStage)
	}

	tpl := templates[c.pick(len(templates))]
	if len(tpl.Subjects) == 0 || len(tpl.Bodies) == 0 {
		return nil, eris.Errorf("composer: template %q has an empty variant pool", tpl.Name)
	}

	return &Draft{
		Subject:      c.personalize(tpl.Subjects[c.pick(len(tpl.Subjects))], lead),
		Body:         c.personalize(tpl.Bodies[c.pick(len(tpl.Bodies))], lead),
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
	}, nil
}

var tokenPattern = regexp.MustCompile(`(?i)\{\{\s*([a-z_]+)\s*\}\}`)

// personalize substitutes {{token}} placeholders with lead fields.
// Unknown tokens and empty fields resolve to "".
func (c *Composer) personalize(content string, lead model.Lead) string {
	values := map[string]string{
		"first_name":  lead.FirstName,
		"last_name":   lead.LastName,
		"full_name":   lead.FullName(),
		"company":     lead.Company,
		"industry":    lead.Industry,
		"title":       lead.Title,
		"website":     lead.Metadata.Website,
		"sender_name": c.seq.FromName,
	}
	return tokenPattern.ReplaceAllStringFunc(content, func(m string) string {
		token := strings.ToLower(tokenPattern.FindStringSubmatch(m)[1])
		return values[token]
	})
}

var stageIntent = map[int]string{
	1: "a first cold introduction",
	2: "a short, friendly nudge three days after the intro",
	3: "a brief second follow-up that acknowledges their inbox is busy",
	4: "a final, no-pressure sign-off that leaves the door open",
}

const draftSystemPrompt = `You write short, plain-text cold outreach emails for a freelance ` +
	`full-stack web developer. Keep it under 120 words, conversational, no bullet spam, ` +
	`no placeholder tokens. Output exactly one line "Subject: <subject>" followed by a ` +
	`blank line and the body.`

func (c *Composer) aiDraft(ctx context.Context, lead model.Lead, stage int) (*Draft, error) {
	prompt := fmt.Sprintf(
		"Write %s to %s (%s) at %s, a company in the %s industry. Sign off as %s.",
		stageIntent[stage], lead.FullName(), lead.Title, lead.Company, lead.Industry, c.seq.FromName,
	)

	resp, err := c.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.aiCfg.Model,
		MaxTokens: int64(c.aiCfg.MaxTokens),
		System:    anthropic.BuildCachedSystemBlocks(draftSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "composer: ai draft")
	}
	resp.Usage.LogCost(c.aiCfg.Model, "draft")

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	subject, body, ok := splitDraft(text)
	if !ok {
		return nil, eris.New("composer: ai draft missing subject line")
	}

	zap.L().Info("composer: ai-drafted email",
		zap.String("lead_id", lead.ID),
		zap.Int("stage", stage),
	)
	return &Draft{Subject: subject, Body: body, AIDrafted: true}, nil
}

// splitDraft parses "Subject: ...\n\n<body>" output.
func splitDraft(text string) (subject, body string, ok bool) {
	text = strings.TrimSpace(text)
	line, rest, found := strings.Cut(text, "\n")
	if !found || !strings.HasPrefix(line, "Subject:") {
		return "", "", false
	}
	subject = strings.TrimSpace(strings.TrimPrefix(line, "Subject:"))
	body = strings.TrimSpace(rest)
	if subject == "" || body == "" {
		return "", "", false
	}
	return subject, body, true
}

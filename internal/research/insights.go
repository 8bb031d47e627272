package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

const insightSystemPrompt = `You write one specific, genuine technical observation about a ` +
	`company for use in a cold outreach email from a full-stack web developer. One or two ` +
	`sentences, plain text, no flattery, no placeholder tokens. Ground it only in the facts given.`

// InsightDrafts generates one personalized observation per qualified
// analysis in a single Anthropic batch. Results are keyed by lead ID;
// leads whose batch item failed are simply absent.
func InsightDrafts(ctx context.Context, ai anthropic.Client, cfg config.AnthropicConfig,
	leads []model.Lead, analyses map[string]*model.Analysis) (map[string]string, error) {

	byID := make(map[string]model.Lead, len(leads))
	for _, l := range leads {
		byID[l.ID] = l
	}

	var items []anthropic.BatchRequestItem
	for id, analysis := range analyses {
		if !analysis.Qualified {
			continue
		}
		lead, ok := byID[id]
		if !ok {
			continue
		}
		items = append(items, anthropic.BatchRequestItem{
			CustomID: id,
			Params: anthropic.MessageRequest{
				Model:     cfg.Model,
				MaxTokens: int64(cfg.MaxTokens),
				System:    anthropic.BuildCachedSystemBlocks(insightSystemPrompt),
				Messages: []anthropic.Message{{
					Role:    "user",
					Content: insightPrompt(lead, analysis),
				}},
			},
		})
	}
	if len(items) == 0 {
		return map[string]string{}, nil
	}

	batch, err := ai.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, eris.Wrap(err, "research: create insight batch")
	}

	zap.L().Info("research: insight batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("items", len(items)),
	)

	if _, err := anthropic.PollBatch(ctx, ai, batch.ID); err != nil {
		return nil, err
	}
	iter, err := ai.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "research: fetch insight batch results")
	}
	responses, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return nil, err
	}

	var usage anthropic.TokenUsage
	insights := make(map[string]string, len(responses))
	for id, resp := range responses {
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		usage.CacheCreationInputTokens += resp.Usage.CacheCreationInputTokens
		usage.CacheReadInputTokens += resp.Usage.CacheReadInputTokens
		for _, block := range resp.Content {
			if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
				insights[id] = strings.TrimSpace(block.Text)
				break
			}
		}
	}
	usage.LogCost(cfg.Model, "insight")
	return insights, nil
}

func insightPrompt(lead model.Lead, analysis *model.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s (%s)\n", lead.Company, analysis.BusinessContext)
	fmt.Fprintf(&b, "Contact: %s, %s\n", lead.FullName(), lead.Title)
	if len(analysis.DetectedTech) > 0 {
		fmt.Fprintf(&b, "Detected stack: %s\n", strings.Join(analysis.DetectedTech, ", "))
	}
	if len(analysis.PositiveObservations) > 0 {
		fmt.Fprintf(&b, "Observations: %s\n", strings.Join(analysis.PositiveObservations, "; "))
	}
	b.WriteString("Write the observation.")
	return b.String()
}

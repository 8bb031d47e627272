// Package sequence implements the follow-up scheduling engine: which
// leads are due for an email, what stage that email belongs to, and how
// a send outcome moves the lead through the lifecycle.
package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// DelayTable maps the stage a lead has just reached to the wait before
// the next follow-up. A stage with no entry schedules nothing.
type DelayTable map[int]time.Duration

// DelaysFromConfig builds the stage delay table from configuration.
// Stage numbers are the stage just reached, so a lead that received its
// initial email (stage 1) waits Stage1DelayDays for follow-up one.
func DelaysFromConfig(cfg config.SequenceConfig) DelayTable {
	return DelayTable{
		1: time.Duration(cfg.Stage1DelayDays) * 24 * time.Hour,
		2: time.Duration(cfg.Stage2DelayDays) * 24 * time.Hour,
		3: time.Duration(cfg.Stage3DelayDays) * 24 * time.Hour,
	}
}

// SentEmail describes one successfully dispatched message.
type SentEmail struct {
	MessageID  string
	ThreadID   string
	Subject    string
	Body       string
	TemplateID string
}

// SendFunc composes and dispatches the email for a lead at the given
// stage (1 for initial outreach, 2-4 for follow-ups). It returns what
// was sent, or the delivery error.
type SendFunc func(ctx context.Context, lead model.Lead, stage int) (*SentEmail, error)

// RunStats summarizes one queue-processing pass.
type RunStats struct {
	Due           int  `json:"due"`
	Attempted     int  `json:"attempted"`
	Sent          int  `json:"sent"`
	Failed        int  `json:"failed"`
	Bounced       int  `json:"bounced"`
	Stale         int  `json:"stale"`
	Skipped       int  `json:"skipped"`
	DailyLimitHit bool `json:"daily_limit_hit"`
}

// Engine drives lead selection and lifecycle transitions. All schedule
// math runs through the injected delay table and clock so tests can pin
// both down.
type Engine struct {
	store      store.Store
	delays     DelayTable
	limiter    *rate.Limiter
	maxPerRun  int
	dailyLimit int
	now        func() time.Time
}

// New creates an engine from the sequence configuration.
func New(st store.Store, cfg config.SequenceConfig) *Engine {
	interval := time.Duration(cfg.SendIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		store:      st,
		delays:     DelaysFromConfig(cfg),
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		maxPerRun:  cfg.MaxPerRun,
		dailyLimit: cfg.DailyLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NextDueDate returns when the follow-up after stageReached should go
// out, or nil when the sequence is exhausted.
func (e *Engine) NextDueDate(stageReached int, sentAt time.Time) *time.Time {
	if stageReached >= model.MaxFollowupStage {
		return nil
	}
	delay, ok := e.delays[stageReached]
	if !ok {
		return nil
	}
	due := sentAt.Add(delay)
	return &due
}

// SelectQueue gathers the leads eligible for a send right now: overdue
// follow-ups first (oldest due date first), then fresh leads to fill the
// remaining budget. The budget is the smaller of the per-run cap and
// what is left of the daily limit.
func (e *Engine) SelectQueue(ctx context.Context) ([]model.Lead, bool, error) {
	budget := e.maxPerRun
	limitHit := false

	if e.dailyLimit > 0 {
		sentToday, err := e.store.CountEmailsSentSince(ctx, startOfDay(e.now()))
		if err != nil {
			return nil, false, eris.Wrap(err, "sequence: count sent today")
		}
		if remaining := e.dailyLimit - sentToday; remaining < budget {
			budget = remaining
			limitHit = true
		}
	}
	if budget <= 0 {
		return nil, true, nil
	}

	followups, err := e.store.SelectDueFollowups(ctx, e.now(), budget)
	if err != nil {
		return nil, false, eris.Wrap(err, "sequence: select due follow-ups")
	}

	queue := followups
	if remaining := budget - len(followups); remaining > 0 {
		initial, err := e.store.SelectInitial(ctx, remaining)
		if err != nil {
			return nil, false, eris.Wrap(err, "sequence: select initial leads")
		}
		queue = append(queue, initial...)
	}
	return queue, limitHit, nil
}

// ProcessQueue runs one send pass: select eligible leads, dispatch each
// through fn with pacing between sends, and record every outcome. A
// failure on one lead never stops the rest of the queue.
func (e *Engine) ProcessQueue(ctx context.Context, fn SendFunc) (*RunStats, error) {
	log := zap.L()

	queue, limitHit, err := e.SelectQueue(ctx)
	if err != nil {
		return nil, err
	}
	stats := &RunStats{Due: len(queue), DailyLimitHit: limitHit}
	if len(queue) == 0 {
		log.Info("sequence: nothing due", zap.Bool("daily_limit_hit", limitHit))
		return stats, nil
	}

	for _, lead := range queue {
		stage := lead.FollowupStage + 1

		// A follow-up must continue an existing conversation. A lead at
		// stage >= 1 with neither a thread ID nor a last message ID has
		// no prior send to thread onto and should never have been
		// selected; skip it instead of mailing a fresh top-level email
		// mid-sequence. Gmail receipts carry both identifiers and SMTP
		// receipts carry the message ID, so either one counts.
		if stage > 1 && lead.ThreadID == "" && lead.LastMessageID == "" {
			stats.Skipped++
			log.Warn("sequence: follow-up lead has no thread, skipping",
				zap.String("lead_id", lead.ID),
				zap.String("email", lead.Email),
				zap.Int("stage", stage),
			)
			continue
		}

		if waitErr := e.limiter.Wait(ctx); waitErr != nil {
			return stats, eris.Wrap(waitErr, "sequence: pacing wait")
		}

		stats.Attempted++

		sent, sendErr := fn(ctx, lead, stage)
		if recErr := e.RecordSendResult(ctx, lead, sent, sendErr); recErr != nil {
			if errors.Is(recErr, store.ErrStale) {
				stats.Stale++
				log.Warn("sequence: lead advanced elsewhere, skipping",
					zap.String("lead_id", lead.ID),
					zap.Int("stage", stage),
				)
				continue
			}
			log.Error("sequence: failed to record send result",
				zap.String("lead_id", lead.ID),
				zap.Error(recErr),
			)
			continue
		}

		switch {
		case sendErr == nil:
			stats.Sent++
		case resilience.IsPermanentAddress(sendErr):
			stats.Bounced++
		default:
			stats.Failed++
		}
	}

	log.Info("sequence: queue pass complete",
		zap.Int("due", stats.Due),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("bounced", stats.Bounced),
		zap.Int("stale", stats.Stale),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// RecordSendResult persists the outcome of one send attempt. On success
// the lead advances a stage and the log row commits in the same
// transaction; on failure only a log row is appended and the lead stays
// exactly where it was, so the next pass picks it up again.
func (e *Engine) RecordSendResult(ctx context.Context, lead model.Lead, sent *SentEmail, sendErr error) error {
	sentAt := e.now()
	stage := lead.FollowupStage + 1

	if sendErr != nil {
		status := model.EmailLogStatusFailed
		if resilience.IsPermanentAddress(sendErr) {
			status = model.EmailLogStatusBounced
		}
		failLog := &model.EmailLog{
			LeadID:        lead.ID,
			LeadEmail:     lead.Email,
			LeadName:      lead.FullName(),
			Company:       lead.Company,
			SentAt:        sentAt,
			FollowupStage: stage,
			Status:        status,
			ErrorMessage:  sendErr.Error(),
		}
		if err := e.store.AppendEmailLog(ctx, failLog); err != nil {
			return eris.Wrap(err, "sequence: append failure log")
		}
		zap.L().Warn("sequence: send failed",
			zap.String("lead_id", lead.ID),
			zap.String("email", lead.Email),
			zap.Int("stage", stage),
			zap.String("outcome", string(status)),
			zap.Error(sendErr),
		)
		return nil
	}

	adv := store.LeadAdvance{
		Status:           model.StatusForStage(stage),
		FollowupStage:    stage,
		FollowupDueDate:  e.NextDueDate(stage, sentAt),
		ThreadID:         sent.ThreadID,
		LastMessageID:    sent.MessageID,
		LastEmailSubject: sent.Subject,
		ContactedAt:      sentAt,
	}
	sentLog := model.EmailLog{
		LeadID:               lead.ID,
		LeadEmail:            lead.Email,
		LeadName:             lead.FullName(),
		Company:              lead.Company,
		Subject:              sent.Subject,
		Body:                 sent.Body,
		TemplateUsed:         sent.TemplateID,
		SentAt:               sentAt,
		MessageID:            sent.MessageID,
		ThreadID:             sent.ThreadID,
		FollowupStage:        stage,
		FollowupScheduledFor: adv.FollowupDueDate,
		Status:               model.EmailLogStatusSent,
	}

	if err := e.store.AdvanceLead(ctx, lead.ID, lead.FollowupStage, adv, sentLog); err != nil {
		return err
	}

	if sent.TemplateID != "" {
		if err := e.store.RecordTemplateUse(ctx, sent.TemplateID, sentAt); err != nil {
			zap.L().Warn("sequence: failed to record template use",
				zap.String("template_id", sent.TemplateID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// RecordReply marks a lead as replied and exits it from the sequence.
// Calling it again for the same lead is a no-op. The template that drew
// the reply, if known, gets credit for it.
func (e *Engine) RecordReply(ctx context.Context, leadID string) error {
	at := e.now()
	if err := e.store.MarkReplied(ctx, leadID, at); err != nil {
		return eris.Wrap(err, "sequence: mark replied")
	}

	logs, err := e.store.ListEmailLogs(ctx, store.EmailLogFilter{
		LeadID: leadID,
		Status: model.EmailLogStatusSent,
		Limit:  1,
	})
	if err != nil {
		zap.L().Warn("sequence: failed to look up template for reply credit",
			zap.String("lead_id", leadID),
			zap.Error(err),
		)
		return nil
	}
	if len(logs) > 0 && logs[0].TemplateUsed != "" {
		if err := e.store.RecordTemplateReply(ctx, logs[0].TemplateUsed); err != nil {
			zap.L().Warn("sequence: failed to record template reply",
				zap.String("template_id", logs[0].TemplateUsed),
				zap.Error(err),
			)
		}
	}
	return nil
}

// MarkUnresponsive closes out leads that finished the sequence without a
// reply and have been quiet since before the cutoff.
func (e *Engine) MarkUnresponsive(ctx context.Context, quietFor time.Duration) (int, error) {
	cutoff := e.now().Add(-quietFor)
	n, err := e.store.MarkUnresponsive(ctx, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sequence: mark unresponsive")
	}
	if n > 0 {
		zap.L().Info("sequence: closed out unresponsive leads", zap.Int("count", n))
	}
	return n, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/composer"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/leadimport"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/replies"
	"github.com/sells-group/outreach-cli/internal/sequence"
	"github.com/sells-group/outreach-cli/internal/store"
)

// unresponsiveAfter is how long a contacted lead may sit silent at the
// final stage before the cleanup job closes it out.
const unresponsiveAfter = 30 * 24 * time.Hour

// ErrAlreadyReplied rejects a manual send to a lead whose thread has a
// detected reply.
var ErrAlreadyReplied = eris.New("worker: lead already replied")

// ErrStageMismatch rejects a manual send whose requested stage is not
// the one the lead is due for.
var ErrStageMismatch = eris.New("worker: stage does not match lead position")

// Worker drives the outreach loop on cron schedules: import new leads,
// sweep for replies, send due emails, and retire dead threads.
type Worker struct {
	cfg      *config.Config
	store    store.Store
	engine   *sequence.Engine
	composer *composer.Composer
	sender   dispatch.Sender
	checker  *replies.Checker // nil when reply detection is unavailable
	importer *leadimport.Importer
	monitor  *monitoring.Checker // nil when no webhook is configured

	scheduler *cron.Cron
	entries   map[string]cron.EntryID
}

// New wires a worker from its collaborators. checker and monitor may be
// nil; the corresponding jobs become no-ops.
func New(
	cfg *config.Config,
	st store.Store,
	engine *sequence.Engine,
	comp *composer.Composer,
	sender dispatch.Sender,
	checker *replies.Checker,
	importer *leadimport.Importer,
	monitor *monitoring.Checker,
) *Worker {
	return &Worker{
		cfg:      cfg,
		store:    st,
		engine:   engine,
		composer: comp,
		sender:   sender,
		checker:  checker,
		importer: importer,
		monitor:  monitor,
		entries:  make(map[string]cron.EntryID),
	}
}

// send composes and dispatches one email for a lead at the given stage.
// It satisfies sequence.SendFunc.
func (w *Worker) send(ctx context.Context, lead model.Lead, stage int) (*sequence.SentEmail, error) {
	draft, err := w.composer.ComposeForStage(ctx, lead, stage)
	if err != nil {
		return nil, err
	}

	msg := dispatch.Message{
		FromName:  w.cfg.Sequence.FromName,
		FromEmail: w.cfg.Sequence.FromEmail,
		ToName:    lead.FullName(),
		ToEmail:   lead.Email,
		Subject:   draft.Subject,
		Body:      draft.Body,
	}

	// Follow-ups stay on the original thread and subject line.
	if stage > 1 {
		msg.ThreadID = lead.ThreadID
		msg.InReplyTo = lead.LastMessageID
		if lead.LastEmailSubject != "" {
			msg.Subject = "Re: " + strings.TrimPrefix(lead.LastEmailSubject, "Re: ")
		}
	}

	receipt, err := w.sender.Send(ctx, msg)
	if err != nil {
		return nil, err
	}

	threadID := receipt.ThreadID
	if threadID == "" {
		threadID = msg.ThreadID
	}
	return &sequence.SentEmail{
		MessageID:  receipt.MessageID,
		ThreadID:   threadID,
		Subject:    msg.Subject,
		Body:       msg.Body,
		TemplateID: draft.TemplateID,
	}, nil
}

// SendCycle runs one send pass over the due queue.
func (w *Worker) SendCycle(ctx context.Context) (*sequence.RunStats, error) {
	return w.engine.ProcessQueue(ctx, w.send)
}

// SendLead dispatches one email to a specific lead outside the normal
// queue. Stage 0 means whatever stage the lead is due for; a non-zero
// stage must match it exactly. Replied and exhausted leads are
// rejected.
func (w *Worker) SendLead(ctx context.Context, leadID string, stage int) error {
	lead, err := w.store.GetLead(ctx, leadID)
	if err != nil {
		return eris.Wrapf(err, "worker: load lead %s", leadID)
	}
	if lead == nil {
		return eris.Wrapf(store.ErrNotFound, "worker: lead %s", leadID)
	}
	if lead.ReplyDetected {
		return ErrAlreadyReplied
	}
	due := lead.FollowupStage + 1
	if stage == 0 {
		stage = due
	}
	if stage != due {
		return eris.Wrapf(ErrStageMismatch, "worker: lead %s is due stage %d, not %d", leadID, due, stage)
	}
	if stage > model.MaxFollowupStage {
		return eris.Errorf("worker: lead %s has finished the sequence", leadID)
	}

	sent, sendErr := w.send(ctx, *lead, stage)
	return w.engine.RecordSendResult(ctx, *lead, sent, sendErr)
}

// ReplyCycle sweeps active threads for replies. Without a checker it
// does nothing.
func (w *Worker) ReplyCycle(ctx context.Context) (*replies.SweepStats, error) {
	if w.checker == nil {
		zap.L().Debug("worker: reply sweep skipped, no gmail access")
		return &replies.SweepStats{}, nil
	}
	return w.checker.Sweep(ctx)
}

// ImportCycle ingests any CSV files waiting in the drop directory.
func (w *Worker) ImportCycle(ctx context.Context) (*leadimport.Stats, error) {
	return w.importer.ImportAll(ctx)
}

// CleanupCycle is the weekly database sweep: collapse leads that share
// an email address into one record, then retire leads that finished the
// sequence without ever replying.
func (w *Worker) CleanupCycle(ctx context.Context) (int, error) {
	removed, err := w.store.RemoveDuplicateLeads(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "worker: remove duplicate leads")
	}
	if removed > 0 {
		zap.L().Info("worker: removed duplicate leads", zap.Int("count", removed))
	}

	retired, err := w.engine.MarkUnresponsive(ctx, unresponsiveAfter)
	if err != nil {
		return removed, err
	}
	return removed + retired, nil
}

// RunOnce executes a single full cycle: import, reply sweep, then send.
// Used by the one-shot CLI path.
func (w *Worker) RunOnce(ctx context.Context) error {
	log := zap.L()

	imported, err := w.ImportCycle(ctx)
	if err != nil {
		log.Error("worker: import cycle failed", zap.Error(err))
	} else if imported.Files > 0 {
		log.Info("worker: import cycle complete",
			zap.Int("files", imported.Files),
			zap.Int("imported", imported.Imported),
		)
	}

	swept, err := w.ReplyCycle(ctx)
	if err != nil {
		log.Error("worker: reply sweep failed", zap.Error(err))
	} else if swept.Checked > 0 {
		log.Info("worker: reply sweep complete",
			zap.Int("checked", swept.Checked),
			zap.Int("replies", swept.Replies),
		)
	}

	stats, err := w.SendCycle(ctx)
	if err != nil {
		return eris.Wrap(err, "worker: send cycle")
	}
	log.Info("worker: send cycle complete",
		zap.Int("due", stats.Due),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("bounced", stats.Bounced),
		zap.Int("stale", stats.Stale),
		zap.Bool("daily_limit_hit", stats.DailyLimitHit),
	)
	return nil
}

// register adds one named job to the scheduler.
func (w *Worker) register(ctx context.Context, name, schedule string, job func(ctx context.Context)) error {
	if schedule == "" {
		return nil
	}
	id, err := w.scheduler.AddFunc(schedule, func() { job(ctx) })
	if err != nil {
		return eris.Wrapf(err, "worker: bad %s schedule %q", name, schedule)
	}
	w.entries[name] = id
	return nil
}

// Start builds the cron scheduler, registers all jobs, and blocks until
// ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.scheduler = cron.New()
	log := zap.L().With(zap.String("component", "worker"))

	for i, sched := range w.cfg.Worker.QueueSchedules {
		if err := w.register(ctx, fmt.Sprintf("queue.%d", i), sched, func(ctx context.Context) {
			if _, err := w.SendCycle(ctx); err != nil {
				log.Error("send cycle failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	if err := w.register(ctx, "replies", w.cfg.Worker.ReplySchedule, func(ctx context.Context) {
		if _, err := w.ReplyCycle(ctx); err != nil {
			log.Error("reply sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if err := w.register(ctx, "import", w.cfg.Worker.ImportSchedule, func(ctx context.Context) {
		if _, err := w.ImportCycle(ctx); err != nil {
			log.Error("import cycle failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if err := w.register(ctx, "cleanup", w.cfg.Worker.CleanupSchedule, func(ctx context.Context) {
		n, err := w.CleanupCycle(ctx)
		if err != nil {
			log.Error("cleanup failed", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("marked unresponsive leads", zap.Int("count", n))
		}
	}); err != nil {
		return err
	}

	if w.monitor != nil {
		go w.monitor.Run(ctx)
	}

	log.Info("worker started",
		zap.Int("jobs", len(w.entries)),
		zap.Strings("queue_schedules", w.cfg.Worker.QueueSchedules),
	)
	w.scheduler.Start()

	<-ctx.Done()
	stop := w.scheduler.Stop()
	<-stop.Done()
	log.Info("worker stopped")
	return nil
}

// Jobs lists the registered job names, for status output.
func (w *Worker) Jobs() []string {
	names := make([]string, 0, len(w.entries))
	for name := range w.entries {
		names = append(names, name)
	}
	return names
}

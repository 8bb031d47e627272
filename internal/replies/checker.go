// Package replies detects lead responses by inspecting Gmail threads
// and exits replied leads from the sequence.
package replies

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/gmail"
)

const (
	defaultSweepLimit  = 200
	defaultConcurrency = 5
)

// Recorder applies the reply transition for a lead. Satisfied by
// sequence.Engine.
type Recorder interface {
	RecordReply(ctx context.Context, leadID string) error
}

// SweepStats summarizes one detection pass.
type SweepStats struct {
	Checked int `json:"checked"`
	Replies int `json:"replies"`
	Errors  int `json:"errors"`
}

// Checker scans active threads for replies.
type Checker struct {
	store       store.Store
	gmail       gmail.Client
	recorder    Recorder
	sweepLimit  int
	concurrency int
}

// NewChecker creates a reply checker.
func NewChecker(st store.Store, gc gmail.Client, rec Recorder) *Checker {
	return &Checker{
		store:       st,
		gmail:       gc,
		recorder:    rec,
		sweepLimit:  defaultSweepLimit,
		concurrency: defaultConcurrency,
	}
}

// HasReply reports whether anyone other than us wrote in the lead's
// thread after our last message. A deleted thread counts as no reply.
func (c *Checker) HasReply(ctx context.Context, lead model.Lead) (bool, error) {
	if lead.ThreadID == "" {
		return false, nil
	}

	thread, err := c.gmail.GetThread(ctx, lead.ThreadID)
	if err != nil {
		if errors.Is(err, gmail.ErrNotFound) {
			return false, nil
		}
		return false, eris.Wrapf(err, "replies: fetch thread for lead %s", lead.ID)
	}

	ourIdx := -1
	for i, msg := range thread.Messages {
		if msg.ID == lead.LastMessageID {
			ourIdx = i
		}
	}
	if ourIdx == -1 {
		// Our message is gone from the thread; nothing to compare against.
		zap.L().Debug("replies: last message not found in thread",
			zap.String("lead_id", lead.ID),
			zap.String("thread_id", lead.ThreadID),
		)
		return false, nil
	}

	for _, msg := range thread.Messages[ourIdx+1:] {
		if !msg.IsSent() {
			return true, nil
		}
	}
	return false, nil
}

// Sweep checks every lead with an active thread. Threads are fetched
// concurrently; one bad thread never stops the pass.
func (c *Checker) Sweep(ctx context.Context) (*SweepStats, error) {
	leads, err := c.store.ListActiveThreads(ctx, c.sweepLimit)
	if err != nil {
		return nil, eris.Wrap(err, "replies: list active threads")
	}

	stats := &SweepStats{Checked: len(leads)}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, lead := range leads {
		g.Go(func() error {
			has, checkErr := c.HasReply(gCtx, lead)
			if checkErr != nil {
				zap.L().Warn("replies: thread check failed",
					zap.String("lead_id", lead.ID),
					zap.Error(checkErr),
				)
				mu.Lock()
				stats.Errors++
				mu.Unlock()
				return nil
			}
			if !has {
				return nil
			}

			if recErr := c.recorder.RecordReply(gCtx, lead.ID); recErr != nil {
				zap.L().Error("replies: failed to record reply",
					zap.String("lead_id", lead.ID),
					zap.Error(recErr),
				)
				mu.Lock()
				stats.Errors++
				mu.Unlock()
				return nil
			}

			zap.L().Info("replies: reply detected",
				zap.String("lead_id", lead.ID),
				zap.String("email", lead.Email),
				zap.String("thread_id", lead.ThreadID),
			)
			mu.Lock()
			stats.Replies++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("replies: sweep complete",
		zap.Int("checked", stats.Checked),
		zap.Int("replies", stats.Replies),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// MarkManually records a reply for a lead by email address, for
// responses that arrive outside the tracked thread (phone, LinkedIn).
func (c *Checker) MarkManually(ctx context.Context, email string) (*model.Lead, error) {
	lead, err := c.store.GetLeadByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrapf(err, "replies: look up %s", email)
	}
	if lead == nil {
		return nil, eris.Wrapf(store.ErrNotFound, "lead %s", email)
	}
	if err := c.recorder.RecordReply(ctx, lead.ID); err != nil {
		return nil, err
	}
	return lead, nil
}

// RecentReplies lists leads whose replies were detected inside the
// window, newest first.
func (c *Checker) RecentReplies(ctx context.Context, window time.Duration) ([]model.Lead, error) {
	return c.store.RecentReplies(ctx, time.Now().UTC().Add(-window))
}

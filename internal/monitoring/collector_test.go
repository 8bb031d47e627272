package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// mockStore implements the store methods the collector touches.
// Unused methods come from the embedded interface and panic if called.
type mockStore struct {
	store.Store

	byStatus  map[model.LeadStatus]int
	logs      []model.EmailLog
	due       int
	templates []model.Template

	countErr error
	logsErr  error
}

func (m *mockStore) CountLeadsByStatus(context.Context) (map[model.LeadStatus]int, error) {
	return m.byStatus, m.countErr
}

func (m *mockStore) ListEmailLogs(_ context.Context, filter store.EmailLogFilter) ([]model.EmailLog, error) {
	if m.logsErr != nil {
		return nil, m.logsErr
	}
	if filter.Limit > 0 && len(m.logs) > filter.Limit {
		return m.logs[:filter.Limit], nil
	}
	return m.logs, nil
}

func (m *mockStore) CountDueFollowups(context.Context, time.Time) (int, error) {
	return m.due, nil
}

func (m *mockStore) ListTemplates(context.Context) ([]model.Template, error) {
	return m.templates, nil
}

func logRow(sentAt time.Time, status model.EmailLogStatus, replied bool) model.EmailLog {
	return model.EmailLog{SentAt: sentAt, Status: status, Replied: replied}
}

func TestCollect_Snapshot(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Hour)
	old := now.Add(-48 * time.Hour)

	st := &mockStore{
		byStatus: map[model.LeadStatus]int{
			model.LeadStatusNew:       40,
			model.LeadStatusContacted: 25,
			model.LeadStatusReplied:   5,
		},
		logs: []model.EmailLog{
			// Newest first, matching store ordering.
			logRow(recent, model.EmailLogStatusSent, true),
			logRow(recent, model.EmailLogStatusSent, false),
			logRow(recent, model.EmailLogStatusSent, false),
			logRow(recent, model.EmailLogStatusFailed, false),
			logRow(recent, model.EmailLogStatusBounced, false),
			// Outside the window; must not be counted.
			logRow(old, model.EmailLogStatusSent, false),
			logRow(old, model.EmailLogStatusFailed, false),
		},
		due: 12,
		templates: []model.Template{
			{Name: "Initial Outreach - General", Active: true, TotalSent: 20, TotalReplies: 2},
			{Name: "Follow-up 1 - Soft Nudge", Active: true, TotalSent: 10, TotalReplies: 3},
			{Name: "Retired", Active: false, TotalSent: 50, TotalReplies: 40},
		},
	}

	c := NewCollector(st)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 70, snap.LeadsTotal)
	assert.Equal(t, 25, snap.LeadsByStatus[model.LeadStatusContacted])

	assert.Equal(t, 3, snap.EmailsSent)
	assert.Equal(t, 1, snap.EmailsFailed)
	assert.Equal(t, 1, snap.EmailsBounced)
	assert.InDelta(t, 0.4, snap.SendFailRate, 1e-9)
	assert.Equal(t, 1, snap.Replies)
	assert.InDelta(t, 1.0/3.0, snap.ReplyRate, 1e-9)

	assert.Equal(t, 12, snap.DueFollowups)

	assert.Equal(t, 2, snap.ActiveTemplates)
	assert.Equal(t, "Follow-up 1 - Soft Nudge", snap.TopTemplate)
	assert.InDelta(t, 0.3, snap.TopTemplateReplyRate, 1e-9)

	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollect_EmptyStore(t *testing.T) {
	st := &mockStore{byStatus: map[model.LeadStatus]int{}}
	c := NewCollector(st)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.LeadsTotal)
	assert.Zero(t, snap.EmailsSent)
	assert.Zero(t, snap.SendFailRate)
	assert.Zero(t, snap.ReplyRate)
	assert.Empty(t, snap.TopTemplate)
}

func TestCollect_StoreError(t *testing.T) {
	st := &mockStore{countErr: eris.New("db down")}
	c := NewCollector(st)

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count leads")
}

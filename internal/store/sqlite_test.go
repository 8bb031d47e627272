package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "outreach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedLead(t *testing.T, s *SQLiteStore, email string, importedAt time.Time) *model.Lead {
	t.Helper()
	lead := &model.Lead{
		FirstName:  "Jane",
		LastName:   "Doe",
		Email:      email,
		Company:    "Acme Plumbing",
		Source:     model.LeadSourceApolloCSV,
		ImportedAt: importedAt,
	}
	require.NoError(t, s.CreateLead(context.Background(), lead))
	return lead
}

func TestSQLiteStore_CreateLead_DuplicateKeepsExisting(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first := seedLead(t, s, "jane@acme.com", time.Now().UTC())

	dup := &model.Lead{FirstName: "Janet", Email: "JANE@acme.com"}
	err := s.CreateLead(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))

	got, err := s.GetLeadByEmail(ctx, "jane@acme.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Jane", got.FirstName)
}

func TestSQLiteStore_CreateLeads_CountsInserted(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	seedLead(t, s, "existing@acme.com", time.Now().UTC())

	n, err := s.CreateLeads(ctx, []model.Lead{
		{Email: "new1@acme.com"},
		{Email: "existing@acme.com"},
		{Email: "new2@acme.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_SelectInitial_OrdersByImportTime(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seedLead(t, s, "second@acme.com", now)
	seedLead(t, s, "first@acme.com", now.Add(-time.Hour))

	leads, err := s.SelectInitial(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "first@acme.com", leads[0].Email)
	assert.Equal(t, "second@acme.com", leads[1].Email)
}

func TestSQLiteStore_AdvanceLead_FullTransition(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	lead := seedLead(t, s, "jane@acme.com", now)

	due := now.AddDate(0, 0, 3)
	err := s.AdvanceLead(ctx, lead.ID, 0, LeadAdvance{
		Status:           model.LeadStatusContacted,
		FollowupStage:    1,
		FollowupDueDate:  &due,
		ThreadID:         "thr-1",
		LastMessageID:    "msg-1",
		LastEmailSubject: "Quick question",
		ContactedAt:      now,
	}, model.EmailLog{
		LeadID: lead.ID, LeadEmail: lead.Email, Subject: "Quick question",
		FollowupStage: 1, Status: model.EmailLogStatusSent, SentAt: now,
	})
	require.NoError(t, err)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.LeadStatusContacted, got.Status)
	assert.Equal(t, 1, got.FollowupStage)
	assert.Equal(t, 1, got.EmailsSent)
	assert.Equal(t, "thr-1", got.ThreadID)
	assert.Equal(t, "msg-1", got.LastMessageID)
	require.NotNil(t, got.FollowupDueDate)
	assert.WithinDuration(t, due, *got.FollowupDueDate, time.Second)

	logs, err := s.ListEmailLogs(ctx, EmailLogFilter{LeadID: lead.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.EmailLogStatusSent, logs[0].Status)
}

func TestSQLiteStore_AdvanceLead_StaleStage(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	lead := seedLead(t, s, "jane@acme.com", now)

	adv := LeadAdvance{
		Status: model.LeadStatusContacted, FollowupStage: 1, ContactedAt: now,
	}
	require.NoError(t, s.AdvanceLead(ctx, lead.ID, 0, adv, model.EmailLog{LeadID: lead.ID}))

	// Second advance from the same prior stage must fail and leave no log.
	err := s.AdvanceLead(ctx, lead.ID, 0, adv, model.EmailLog{LeadID: lead.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStale))

	logs, err := s.ListEmailLogs(ctx, EmailLogFilter{LeadID: lead.ID})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EmailsSent)
}

func TestSQLiteStore_AdvanceLead_KeepsThreadWhenEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	lead := seedLead(t, s, "jane@acme.com", now)

	require.NoError(t, s.AdvanceLead(ctx, lead.ID, 0, LeadAdvance{
		Status: model.LeadStatusContacted, FollowupStage: 1,
		ThreadID: "thr-1", ContactedAt: now,
	}, model.EmailLog{LeadID: lead.ID}))

	// SMTP sends return no thread; the existing one must survive.
	require.NoError(t, s.AdvanceLead(ctx, lead.ID, 1, LeadAdvance{
		Status: model.LeadStatusFollowup1, FollowupStage: 2,
		ThreadID: "", ContactedAt: now,
	}, model.EmailLog{LeadID: lead.ID}))

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "thr-1", got.ThreadID)
	assert.Equal(t, 2, got.FollowupStage)
}

func TestSQLiteStore_SelectDueFollowups(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	overdue := seedLead(t, s, "overdue@acme.com", now)
	future := seedLead(t, s, "future@acme.com", now)
	replied := seedLead(t, s, "replied@acme.com", now)

	past := now.Add(-2 * time.Hour)
	ahead := now.Add(48 * time.Hour)
	require.NoError(t, s.AdvanceLead(ctx, overdue.ID, 0, LeadAdvance{
		Status: model.LeadStatusContacted, FollowupStage: 1, FollowupDueDate: &past, ContactedAt: now,
	}, model.EmailLog{LeadID: overdue.ID}))
	require.NoError(t, s.AdvanceLead(ctx, future.ID, 0, LeadAdvance{
		Status: model.LeadStatusContacted, FollowupStage: 1, FollowupDueDate: &ahead, ContactedAt: now,
	}, model.EmailLog{LeadID: future.ID}))
	require.NoError(t, s.AdvanceLead(ctx, replied.ID, 0, LeadAdvance{
		Status: model.LeadStatusContacted, FollowupStage: 1, FollowupDueDate: &past, ContactedAt: now,
	}, model.EmailLog{LeadID: replied.ID}))
	require.NoError(t, s.MarkReplied(ctx, replied.ID, now))

	due, err := s.SelectDueFollowups(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "overdue@acme.com", due[0].Email)

	count, err := s.CountDueFollowups(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_MarkReplied_IrreversibleExit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	lead := seedLead(t, s, "jane@acme.com", now)
	due := now.Add(24 * time.Hour)
	require.NoError(t, s.AdvanceLead(ctx, lead.ID, 0, LeadAdvance{
		Status: model.LeadStatusContacted, FollowupStage: 1,
		FollowupDueDate: &due, ThreadID: "thr-1", ContactedAt: now,
	}, model.EmailLog{LeadID: lead.ID}))

	require.NoError(t, s.MarkReplied(ctx, lead.ID, now))

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, got.ReplyDetected)
	assert.Equal(t, model.LeadStatusReplied, got.Status)
	assert.Nil(t, got.FollowupDueDate)
	require.NotNil(t, got.ReplyDetectedAt)

	// Marking again is a no-op, not an error.
	require.NoError(t, s.MarkReplied(ctx, lead.ID, now.Add(time.Hour)))

	// A replied lead can never be advanced again.
	err = s.AdvanceLead(ctx, lead.ID, 1, LeadAdvance{
		Status: model.LeadStatusFollowup1, FollowupStage: 2, ContactedAt: now,
	}, model.EmailLog{LeadID: lead.ID})
	assert.True(t, errors.Is(err, ErrStale))

	logs, err := s.ListEmailLogs(ctx, EmailLogFilter{LeadID: lead.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Replied)
}

func TestSQLiteStore_MarkReplied_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.MarkReplied(context.Background(), "ghost", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_ListActiveThreads(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	threaded := seedLead(t, s, "threaded@acme.com", now)
	seedLead(t, s, "unthreaded@acme.com", now)

	require.NoError(t, s.AdvanceLead(ctx, threaded.ID, 0, LeadAdvance{
		Status: model.LeadStatusContacted, FollowupStage: 1,
		ThreadID: "thr-9", ContactedAt: now,
	}, model.EmailLog{LeadID: threaded.ID}))

	leads, err := s.ListActiveThreads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "thr-9", leads[0].ThreadID)
}

func TestSQLiteStore_MarkUnresponsive(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	lead := seedLead(t, s, "cold@acme.com", now)
	for stage := 0; stage < model.MaxFollowupStage; stage++ {
		require.NoError(t, s.AdvanceLead(ctx, lead.ID, stage, LeadAdvance{
			Status:        model.StatusForStage(stage + 1),
			FollowupStage: stage + 1,
			ContactedAt:   now.AddDate(0, 0, -30),
		}, model.EmailLog{LeadID: lead.ID}))
	}

	n, err := s.MarkUnresponsive(ctx, now.AddDate(0, 0, -14))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusUnresponsive, got.Status)
}

func TestSQLiteStore_RemoveDuplicateLeads(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	keeper := seedLead(t, s, "jane@acme.com", now)
	seedLead(t, s, "other@acme.com", now)

	// A casing duplicate predates address normalization; insert it raw
	// since CreateLead would lowercase it into the unique index.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, email, created_at) VALUES (?, ?, ?)`,
		"dup-1", "Jane@Acme.com", now.Add(time.Hour),
	)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO email_logs (id, lead_id, status) VALUES (?, ?, ?)`,
		"log-1", "dup-1", "sent",
	)
	require.NoError(t, err)

	n, err := s.RemoveDuplicateLeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetLead(ctx, "dup-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The duplicate's history now belongs to the surviving lead.
	logs, err := s.ListEmailLogs(ctx, EmailLogFilter{LeadID: keeper.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "log-1", logs[0].ID)

	// A clean table is a no-op.
	n, err = s.RemoveDuplicateLeads(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_Templates_SeedAndStats(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	seed := []model.Template{
		{Name: "intro_v1", Stage: model.TemplateStageInitial, Subjects: []string{"Hello {{first_name}}"}, Bodies: []string{"Hi {{first_name}},"}, Active: true},
		{Name: "followup1_v1", Stage: model.TemplateStageFollowup1, Subjects: []string{"Re: Hello"}, Bodies: []string{"Just bumping this."}, Active: true},
	}

	n, err := s.SeedTemplates(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Second seed is a no-op: existing templates win.
	n, err = s.SeedTemplates(ctx, seed)
	require.NoError(t, err)
	assert.Zero(t, n)

	initial, err := s.GetTemplatesByStage(ctx, model.TemplateStageInitial)
	require.NoError(t, err)
	require.Len(t, initial, 1)
	assert.Equal(t, []string{"Hello {{first_name}}"}, initial[0].Subjects)

	now := time.Now().UTC()
	require.NoError(t, s.RecordTemplateUse(ctx, initial[0].ID, now))
	require.NoError(t, s.RecordTemplateReply(ctx, initial[0].ID))

	all, err := s.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, tpl := range all {
		if tpl.ID == initial[0].ID {
			assert.Equal(t, 1, tpl.TimesUsed)
			assert.Equal(t, 1, tpl.TotalSent)
			assert.Equal(t, 1, tpl.TotalReplies)
			assert.InDelta(t, 1.0, tpl.ReplyRate(), 0.001)
		}
	}
}

func TestSQLiteStore_ListLeads_Filters(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seedLead(t, s, "jane@acme.com", now)
	other := &model.Lead{FirstName: "Bob", Email: "bob@widgets.io", Company: "Widgets"}
	require.NoError(t, s.CreateLead(ctx, other))

	byStatus, err := s.ListLeads(ctx, LeadFilter{Status: model.LeadStatusNew})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	bySearch, err := s.ListLeads(ctx, LeadFilter{Search: "widgets"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "bob@widgets.io", bySearch[0].Email)

	yes := true
	byReply, err := s.ListLeads(ctx, LeadFilter{ReplyDetected: &yes})
	require.NoError(t, err)
	assert.Empty(t, byReply)
}

func TestSQLiteStore_CountEmailsSentSince(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	lead := seedLead(t, s, "jane@acme.com", now)

	require.NoError(t, s.AppendEmailLog(ctx, &model.EmailLog{
		LeadID: lead.ID, Status: model.EmailLogStatusSent, SentAt: now,
	}))
	require.NoError(t, s.AppendEmailLog(ctx, &model.EmailLog{
		LeadID: lead.ID, Status: model.EmailLogStatusFailed, SentAt: now,
		ErrorMessage: "smtp: 421 try again later",
	}))
	require.NoError(t, s.AppendEmailLog(ctx, &model.EmailLog{
		LeadID: lead.ID, Status: model.EmailLogStatusSent, SentAt: now.Add(-48 * time.Hour),
	}))

	n, err := s.CountEmailsSentSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

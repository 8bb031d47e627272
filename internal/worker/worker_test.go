package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/composer"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/leadimport"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/sequence"
	"github.com/sells-group/outreach-cli/internal/store"
)

// workerStore implements the store methods one send cycle touches.
// Unused methods come from the embedded interface and panic if called.
type workerStore struct {
	store.Store

	lead      *model.Lead
	initial   []model.Lead
	followups []model.Lead
	templates []model.Template

	advances []store.LeadAdvance
	appended []model.EmailLog
	uses     []string

	duplicatesRemoved int
	unresponsiveCut   time.Time
}

func (s *workerStore) GetLead(context.Context, string) (*model.Lead, error) {
	return s.lead, nil
}

func (s *workerStore) CountEmailsSentSince(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *workerStore) SelectDueFollowups(context.Context, time.Time, int) ([]model.Lead, error) {
	return s.followups, nil
}

func (s *workerStore) SelectInitial(context.Context, int) ([]model.Lead, error) {
	return s.initial, nil
}

func (s *workerStore) GetTemplatesByStage(context.Context, model.TemplateStage) ([]model.Template, error) {
	return s.templates, nil
}

func (s *workerStore) AdvanceLead(_ context.Context, _ string, _ int, adv store.LeadAdvance, log model.EmailLog) error {
	s.advances = append(s.advances, adv)
	s.appended = append(s.appended, log)
	return nil
}

func (s *workerStore) AppendEmailLog(_ context.Context, log *model.EmailLog) error {
	s.appended = append(s.appended, *log)
	return nil
}

func (s *workerStore) RecordTemplateUse(_ context.Context, id string, _ time.Time) error {
	s.uses = append(s.uses, id)
	return nil
}

func (s *workerStore) RemoveDuplicateLeads(context.Context) (int, error) {
	return s.duplicatesRemoved, nil
}

func (s *workerStore) MarkUnresponsive(_ context.Context, cutoff time.Time) (int, error) {
	s.unresponsiveCut = cutoff
	return 1, nil
}

// fakeSender records outgoing messages.
type fakeSender struct {
	sent []dispatch.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg dispatch.Message) (*dispatch.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &dispatch.Receipt{MessageID: "<msg-1@agency.com>", ThreadID: "thr-1"}, nil
}

func (f *fakeSender) Name() string { return "fake" }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Sequence: config.SequenceConfig{
			FromName:        "Jordan Reyes",
			FromEmail:       "jordan@agency.com",
			Stage1DelayDays: 3,
			Stage2DelayDays: 6,
			Stage3DelayDays: 7,
			MaxPerRun:       10,
			DailyLimit:      50,
		},
		Import: config.ImportConfig{
			Dir:          t.TempDir(),
			ProcessedDir: t.TempDir(),
		},
		Worker: config.WorkerConfig{
			QueueSchedules:  []string{"0 9 * * 1-5"},
			ReplySchedule:   "30 * * * *",
			ImportSchedule:  "0 8 * * *",
			CleanupSchedule: "0 2 * * 0",
		},
	}
}

func singleTemplate() []model.Template {
	return []model.Template{{
		ID:       "tpl-1",
		Name:     "Initial Outreach - General",
		Stage:    model.TemplateStageInitial,
		Subjects: []string{"Quick question about {{company}}"},
		Bodies:   []string{"Hi {{first_name}},\n\nWorth a chat?\n\n{{sender_name}}"},
		Active:   true,
	}}
}

func newTestWorker(t *testing.T, st *workerStore, sender dispatch.Sender) *Worker {
	t.Helper()
	cfg := testConfig(t)
	eng := sequence.New(st, cfg.Sequence)
	comp := composer.New(st, nil, cfg)
	imp := leadimport.New(st, cfg.Import)
	return New(cfg, st, eng, comp, sender, nil, imp, nil)
}

func TestSend_InitialMessage(t *testing.T) {
	st := &workerStore{templates: singleTemplate()}
	sender := &fakeSender{}
	w := newTestWorker(t, st, sender)

	lead := model.Lead{
		ID:        "lead-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@analytical.io",
		Company:   "Analytical Engines",
	}

	sent, err := w.send(context.Background(), lead, 1)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "Jordan Reyes", msg.FromName)
	assert.Equal(t, "jordan@agency.com", msg.FromEmail)
	assert.Equal(t, "Ada Lovelace", msg.ToName)
	assert.Equal(t, "ada@analytical.io", msg.ToEmail)
	assert.Equal(t, "Quick question about Analytical Engines", msg.Subject)
	assert.Empty(t, msg.ThreadID)
	assert.Empty(t, msg.InReplyTo)

	assert.Equal(t, "<msg-1@agency.com>", sent.MessageID)
	assert.Equal(t, "thr-1", sent.ThreadID)
	assert.Equal(t, "tpl-1", sent.TemplateID)
}

func TestSend_FollowupThreadsOntoOriginal(t *testing.T) {
	st := &workerStore{templates: singleTemplate()}
	sender := &fakeSender{}
	w := newTestWorker(t, st, sender)

	lead := model.Lead{
		ID:               "lead-1",
		FirstName:        "Ada",
		Email:            "ada@analytical.io",
		Company:          "Analytical Engines",
		ThreadID:         "thr-1",
		LastMessageID:    "<orig@agency.com>",
		LastEmailSubject: "Re: Quick question about Analytical Engines",
	}

	_, err := w.send(context.Background(), lead, 2)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "thr-1", msg.ThreadID)
	assert.Equal(t, "<orig@agency.com>", msg.InReplyTo)
	// Re: is not stacked on an already-threaded subject.
	assert.Equal(t, "Re: Quick question about Analytical Engines", msg.Subject)
}

func TestRunOnce_SendsAndRecords(t *testing.T) {
	st := &workerStore{
		templates: singleTemplate(),
		initial: []model.Lead{{
			ID:        "lead-1",
			FirstName: "Ada",
			Email:     "ada@analytical.io",
			Company:   "Analytical Engines",
			Status:    model.LeadStatusNew,
		}},
	}
	sender := &fakeSender{}
	w := newTestWorker(t, st, sender)

	err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	require.Len(t, st.advances, 1)
	assert.Equal(t, model.LeadStatusContacted, st.advances[0].Status)
	assert.Equal(t, 1, st.advances[0].FollowupStage)
	assert.Equal(t, []string{"tpl-1"}, st.uses)
}

func TestSendLead_AdvancesStage(t *testing.T) {
	st := &workerStore{
		templates: singleTemplate(),
		lead: &model.Lead{
			ID:            "lead-1",
			FirstName:     "Ada",
			Email:         "ada@analytical.io",
			Company:       "Analytical Engines",
			Status:        model.LeadStatusContacted,
			FollowupStage: 1,
		},
	}
	sender := &fakeSender{}
	w := newTestWorker(t, st, sender)

	err := w.SendLead(context.Background(), "lead-1", 0)
	require.NoError(t, err)

	require.Len(t, st.advances, 1)
	assert.Equal(t, 2, st.advances[0].FollowupStage)
	assert.Equal(t, model.LeadStatusFollowup1, st.advances[0].Status)
}

func TestSendLead_RejectsWrongStage(t *testing.T) {
	st := &workerStore{
		templates: singleTemplate(),
		lead: &model.Lead{
			ID:            "lead-1",
			Email:         "ada@analytical.io",
			Status:        model.LeadStatusContacted,
			FollowupStage: 1,
		},
	}
	sender := &fakeSender{}
	w := newTestWorker(t, st, sender)

	err := w.SendLead(context.Background(), "lead-1", 4)
	require.ErrorIs(t, err, ErrStageMismatch)
	assert.Empty(t, sender.sent)

	// An explicit stage that matches the lead's position goes through.
	require.NoError(t, w.SendLead(context.Background(), "lead-1", 2))
	require.Len(t, st.advances, 1)
	assert.Equal(t, 2, st.advances[0].FollowupStage)
}

func TestSendLead_RejectsRepliedLead(t *testing.T) {
	st := &workerStore{
		templates: singleTemplate(),
		lead: &model.Lead{
			ID:            "lead-1",
			Email:         "ada@analytical.io",
			ReplyDetected: true,
		},
	}
	w := newTestWorker(t, st, &fakeSender{})

	err := w.SendLead(context.Background(), "lead-1", 0)
	require.ErrorIs(t, err, ErrAlreadyReplied)
}

func TestSendLead_ExhaustedSequence(t *testing.T) {
	st := &workerStore{
		lead: &model.Lead{ID: "lead-1", FollowupStage: model.MaxFollowupStage},
	}
	w := newTestWorker(t, st, &fakeSender{})

	err := w.SendLead(context.Background(), "lead-1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finished the sequence")
}

func TestCleanupCycle_DedupesThenRetires(t *testing.T) {
	st := &workerStore{duplicatesRemoved: 2}
	w := newTestWorker(t, st, &fakeSender{})

	n, err := w.CleanupCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, n, "two duplicates merged plus one lead retired")
	assert.False(t, st.unresponsiveCut.IsZero())
	assert.WithinDuration(t, time.Now().UTC().Add(-unresponsiveAfter), st.unresponsiveCut, time.Minute)
}

func TestStart_RegistersJobsAndStopsOnCancel(t *testing.T) {
	st := &workerStore{templates: singleTemplate()}
	w := newTestWorker(t, st, &fakeSender{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not stop after context cancellation")
	}

	assert.ElementsMatch(t, []string{"queue.0", "replies", "import", "cleanup"}, w.Jobs())
}

func TestStart_BadScheduleFails(t *testing.T) {
	st := &workerStore{}
	w := newTestWorker(t, st, &fakeSender{})
	w.cfg.Worker.ReplySchedule = "not a cron expression"

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replies schedule")
}

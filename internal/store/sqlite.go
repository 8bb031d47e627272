package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	first_name         TEXT NOT NULL DEFAULT '',
	last_name          TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL UNIQUE,
	company            TEXT NOT NULL DEFAULT '',
	industry           TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL DEFAULT 'manual',
	status             TEXT NOT NULL DEFAULT 'new',
	followup_stage     INTEGER NOT NULL DEFAULT 0,
	followup_due_date  DATETIME,
	reply_detected     INTEGER NOT NULL DEFAULT 0,
	reply_detected_at  DATETIME,
	thread_id          TEXT NOT NULL DEFAULT '',
	last_message_id    TEXT NOT NULL DEFAULT '',
	emails_sent        INTEGER NOT NULL DEFAULT 0,
	last_contacted_at  DATETIME,
	last_email_subject TEXT NOT NULL DEFAULT '',
	metadata           TEXT NOT NULL DEFAULT '{}',
	notes              TEXT NOT NULL DEFAULT '',
	imported_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_status_stage ON leads(status, followup_stage);
CREATE INDEX IF NOT EXISTS idx_leads_due_date ON leads(followup_due_date);
CREATE INDEX IF NOT EXISTS idx_leads_imported_at ON leads(imported_at);

CREATE TABLE IF NOT EXISTS email_logs (
	id                     TEXT PRIMARY KEY,
	lead_id                TEXT NOT NULL REFERENCES leads(id),
	lead_email             TEXT NOT NULL DEFAULT '',
	lead_name              TEXT NOT NULL DEFAULT '',
	company                TEXT NOT NULL DEFAULT '',
	subject                TEXT NOT NULL DEFAULT '',
	body                   TEXT NOT NULL DEFAULT '',
	template_used          TEXT NOT NULL DEFAULT '',
	sent_at                DATETIME NOT NULL DEFAULT (datetime('now')),
	message_id             TEXT NOT NULL DEFAULT '',
	thread_id              TEXT NOT NULL DEFAULT '',
	followup_stage         INTEGER NOT NULL DEFAULT 0,
	followup_scheduled_for DATETIME,
	status                 TEXT NOT NULL DEFAULT 'sent',
	replied                INTEGER NOT NULL DEFAULT 0,
	replied_at             DATETIME,
	error_message          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_email_logs_lead_id ON email_logs(lead_id);
CREATE INDEX IF NOT EXISTS idx_email_logs_sent_at ON email_logs(sent_at);
CREATE INDEX IF NOT EXISTS idx_email_logs_status ON email_logs(status);

CREATE TABLE IF NOT EXISTS templates (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	stage         TEXT NOT NULL,
	subjects      TEXT NOT NULL DEFAULT '[]',
	bodies        TEXT NOT NULL DEFAULT '[]',
	active        INTEGER NOT NULL DEFAULT 1,
	times_used    INTEGER NOT NULL DEFAULT 0,
	last_used_at  DATETIME,
	total_sent    INTEGER NOT NULL DEFAULT 0,
	total_replies INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_templates_stage_active ON templates(stage, active);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func scanLeadSQLite(row scannable) (*model.Lead, error) {
	var l model.Lead
	var metadataJSON string
	var dueDate, replyAt, contactedAt sql.NullTime

	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Company, &l.Industry, &l.Title,
		&l.Source, &l.Status, &l.FollowupStage, &dueDate, &l.ReplyDetected, &replyAt,
		&l.ThreadID, &l.LastMessageID, &l.EmailsSent, &contactedAt, &l.LastEmailSubject,
		&metadataJSON, &l.Notes, &l.ImportedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.FollowupDueDate = nullTimePtr(dueDate)
	l.ReplyDetectedAt = nullTimePtr(replyAt)
	l.LastContactedAt = nullTimePtr(contactedAt)
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &l.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal lead metadata")
		}
	}
	return &l, nil
}

func scanLeadsSQLite(rows *sql.Rows) ([]model.Lead, error) {
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLeadSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	lead.Email = normalizeEmail(lead.Email)
	now := time.Now().UTC()
	if lead.ImportedAt.IsZero() {
		lead.ImportedAt = now
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	if lead.Source == "" {
		lead.Source = model.LeadSourceManual
	}

	metadataJSON, err := json.Marshal(lead.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal lead metadata")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO leads (id, first_name, last_name, email, company, industry, title,
		   source, status, followup_stage, metadata, notes, imported_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.FirstName, lead.LastName, lead.Email, lead.Company, lead.Industry,
		lead.Title, string(lead.Source), string(lead.Status), lead.FollowupStage,
		string(metadataJSON), lead.Notes, lead.ImportedAt, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert lead")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrDuplicate, "sqlite: lead %s", lead.Email)
	}
	return nil
}

func (s *SQLiteStore) CreateLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk insert: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inserted := 0
	for _, l := range leads {
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		if l.ImportedAt.IsZero() {
			l.ImportedAt = now
		}
		if l.Status == "" {
			l.Status = model.LeadStatusNew
		}
		if l.Source == "" {
			l.Source = model.LeadSourceManual
		}
		metadataJSON, err := json.Marshal(l.Metadata)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal lead metadata")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO leads (id, first_name, last_name, email, company, industry, title,
			   source, status, followup_stage, metadata, notes, imported_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.FirstName, l.LastName, normalizeEmail(l.Email), l.Company, l.Industry,
			l.Title, string(l.Source), string(l.Status), l.FollowupStage,
			string(metadataJSON), l.Notes, l.ImportedAt, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert lead %s", l.Email)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk insert: commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLeadSQLite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE email = ?`, normalizeEmail(email))
	l, err := scanLeadSQLite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead by email %s", email)
	}
	return l, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ReplyDetected != nil {
		query += ` AND reply_detected = ?`
		args = append(args, *filter.ReplyDetected)
	}
	if filter.Search != "" {
		query += ` AND (email LIKE ? OR company LIKE ? OR first_name LIKE ? OR last_name LIKE ?)`
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	leads, err := scanLeadsSQLite(rows)
	return leads, eris.Wrap(err, "sqlite: list leads iterate")
}

func (s *SQLiteStore) CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count leads by status")
	}
	defer rows.Close()

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.LeadStatus(status)] = count
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count leads iterate")
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) SelectInitial(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE status = 'new' AND reply_detected = 0 AND followup_stage = 0
		 ORDER BY imported_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select initial")
	}
	leads, err := scanLeadsSQLite(rows)
	return leads, eris.Wrap(err, "sqlite: select initial iterate")
}

func (s *SQLiteStore) SelectDueFollowups(ctx context.Context, now time.Time, limit int) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE reply_detected = 0
		   AND status NOT IN ('replied', 'engaged', 'unsubscribed')
		   AND followup_stage BETWEEN 1 AND 3
		   AND followup_due_date IS NOT NULL AND followup_due_date <= ?
		 ORDER BY followup_due_date ASC LIMIT ?`, now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select due followups")
	}
	leads, err := scanLeadsSQLite(rows)
	return leads, eris.Wrap(err, "sqlite: select due followups iterate")
}

func (s *SQLiteStore) AdvanceLead(ctx context.Context, leadID string, fromStage int, adv LeadAdvance, log model.EmailLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: advance lead: begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET status = ?, followup_stage = ?, followup_due_date = ?,
		   thread_id = CASE WHEN ? = '' THEN thread_id ELSE ? END,
		   last_message_id = ?, last_email_subject = ?,
		   emails_sent = emails_sent + 1, last_contacted_at = ?, updated_at = ?
		 WHERE id = ? AND followup_stage = ? AND reply_detected = 0`,
		string(adv.Status), adv.FollowupStage, adv.FollowupDueDate, adv.ThreadID, adv.ThreadID,
		adv.LastMessageID, adv.LastEmailSubject, adv.ContactedAt, adv.ContactedAt,
		leadID, fromStage,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance lead %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStale, "sqlite: lead %s expected stage %d", leadID, fromStage)
	}

	fillEmailLogDefaults(&log)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO email_logs (`+emailLogColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.LeadID, log.LeadEmail, log.LeadName, log.Company, log.Subject, log.Body,
		log.TemplateUsed, log.SentAt, log.MessageID, log.ThreadID, log.FollowupStage,
		log.FollowupScheduledFor, string(log.Status), log.Replied, log.RepliedAt, log.ErrorMessage,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert email log")
	}

	return eris.Wrap(tx.Commit(), "sqlite: advance lead: commit")
}

func (s *SQLiteStore) MarkReplied(ctx context.Context, leadID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark replied: begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET reply_detected = 1, reply_detected_at = ?, status = 'replied',
		   followup_due_date = NULL, updated_at = ?
		 WHERE id = ? AND reply_detected = 0`,
		at, at, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark replied %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = ?)`, leadID).Scan(&exists); err != nil {
			return eris.Wrapf(err, "sqlite: mark replied check %s", leadID)
		}
		if !exists {
			return eris.Wrapf(ErrNotFound, "sqlite: lead %s", leadID)
		}
		return eris.Wrap(tx.Commit(), "sqlite: mark replied: commit")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE email_logs SET replied = 1, replied_at = ? WHERE lead_id = ? AND replied = 0`,
		at, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: flag replied logs %s", leadID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: mark replied: commit")
}

func (s *SQLiteStore) MarkUnresponsive(ctx context.Context, lastContactBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = 'unresponsive', updated_at = datetime('now')
		 WHERE reply_detected = 0 AND followup_stage >= ?
		   AND status NOT IN ('replied', 'engaged', 'unsubscribed', 'unresponsive')
		   AND last_contacted_at IS NOT NULL AND last_contacted_at <= ?`,
		model.MaxFollowupStage, lastContactBefore,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark unresponsive")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "rows affected")
	}
	return int(n), nil
}

// duplicateLeadsSQL selects leads whose address collides with an older
// lead, comparing case-insensitively. The older row (ties broken by id)
// survives.
const duplicateLeadsSQL = `
	SELECT a.id FROM leads a
	JOIN leads b ON lower(a.email) = lower(b.email) AND a.id <> b.id
	WHERE a.created_at > b.created_at
	   OR (a.created_at = b.created_at AND a.id > b.id)`

// RemoveDuplicateLeads merges leads sharing an email address into the
// oldest one and deletes the rest. The unique index keeps exact
// duplicates out at insert time, so this only catches rows that differ
// in casing (imported before addresses were normalized). Email history
// of a removed lead is repointed at the survivor.
func (s *SQLiteStore) RemoveDuplicateLeads(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: remove duplicates: begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE email_logs SET lead_id = (
		   SELECT k.id FROM leads k JOIN leads d ON lower(k.email) = lower(d.email)
		   WHERE d.id = email_logs.lead_id
		   ORDER BY k.created_at, k.id LIMIT 1)
		 WHERE lead_id IN (`+duplicateLeadsSQL+`)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: remove duplicates: repoint logs")
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE id IN (`+duplicateLeadsSQL+`)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: remove duplicate leads")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "rows affected")
	}
	return int(n), eris.Wrap(tx.Commit(), "sqlite: remove duplicates: commit")
}

func (s *SQLiteStore) AppendEmailLog(ctx context.Context, log *model.EmailLog) error {
	fillEmailLogDefaults(log)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_logs (`+emailLogColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.LeadID, log.LeadEmail, log.LeadName, log.Company, log.Subject, log.Body,
		log.TemplateUsed, log.SentAt, log.MessageID, log.ThreadID, log.FollowupStage,
		log.FollowupScheduledFor, string(log.Status), log.Replied, log.RepliedAt, log.ErrorMessage,
	)
	return eris.Wrap(err, "sqlite: append email log")
}

func scanEmailLogSQLite(row scannable) (*model.EmailLog, error) {
	var e model.EmailLog
	var scheduledFor, repliedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.LeadID, &e.LeadEmail, &e.LeadName, &e.Company, &e.Subject, &e.Body,
		&e.TemplateUsed, &e.SentAt, &e.MessageID, &e.ThreadID, &e.FollowupStage,
		&scheduledFor, &e.Status, &e.Replied, &repliedAt, &e.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	e.FollowupScheduledFor = nullTimePtr(scheduledFor)
	e.RepliedAt = nullTimePtr(repliedAt)
	return &e, nil
}

func (s *SQLiteStore) ListEmailLogs(ctx context.Context, filter EmailLogFilter) ([]model.EmailLog, error) {
	query := `SELECT ` + emailLogColumns + ` FROM email_logs WHERE 1=1`
	var args []any

	if filter.LeadID != "" {
		query += ` AND lead_id = ?`
		args = append(args, filter.LeadID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY sent_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list email logs")
	}
	defer rows.Close()

	var logs []model.EmailLog
	for rows.Next() {
		e, err := scanEmailLogSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email log")
		}
		logs = append(logs, *e)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list email logs iterate")
}

func (s *SQLiteStore) CountEmailsSentSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_logs WHERE status = 'sent' AND sent_at >= ?`, since,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count emails sent")
}

func (s *SQLiteStore) CountDueFollowups(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads
		 WHERE reply_detected = 0
		   AND status NOT IN ('replied', 'engaged', 'unsubscribed')
		   AND followup_stage BETWEEN 1 AND 3
		   AND followup_due_date IS NOT NULL AND followup_due_date <= ?`, now,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count due followups")
}

func (s *SQLiteStore) ListActiveThreads(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE reply_detected = 0 AND thread_id <> ''
		   AND status IN ('contacted', 'followup_1', 'followup_2', 'followup_3')
		 ORDER BY last_contacted_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active threads")
	}
	leads, err := scanLeadsSQLite(rows)
	return leads, eris.Wrap(err, "sqlite: list active threads iterate")
}

func (s *SQLiteStore) RecentReplies(ctx context.Context, since time.Time) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE reply_detected = 1 AND reply_detected_at >= ?
		 ORDER BY reply_detected_at DESC`, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent replies")
	}
	leads, err := scanLeadsSQLite(rows)
	return leads, eris.Wrap(err, "sqlite: recent replies iterate")
}

func (s *SQLiteStore) SeedTemplates(ctx context.Context, templates []model.Template) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: seed templates: begin tx")
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`).Scan(&count); err != nil {
		return 0, eris.Wrap(err, "sqlite: count templates")
	}
	if count > 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	for _, t := range templates {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		subjectsJSON, err := json.Marshal(t.Subjects)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal subjects")
		}
		bodiesJSON, err := json.Marshal(t.Bodies)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal bodies")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO templates (id, name, stage, subjects, bodies, active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, string(t.Stage), string(subjectsJSON), string(bodiesJSON), t.Active, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert template %s", t.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: seed templates: commit")
	}
	return len(templates), nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY stage, name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list templates")
	}
	defer rows.Close()

	var templates []model.Template
	for rows.Next() {
		t, err := scanTemplateSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan template")
		}
		templates = append(templates, *t)
	}
	return templates, eris.Wrap(rows.Err(), "sqlite: list templates iterate")
}

func (s *SQLiteStore) GetTemplatesByStage(ctx context.Context, stage model.TemplateStage) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE stage = ? AND active = 1 ORDER BY name`,
		string(stage),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: templates for stage %s", stage)
	}
	defer rows.Close()

	var templates []model.Template
	for rows.Next() {
		t, err := scanTemplateSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan template")
		}
		templates = append(templates, *t)
	}
	return templates, eris.Wrap(rows.Err(), "sqlite: templates by stage iterate")
}

func scanTemplateSQLite(row scannable) (*model.Template, error) {
	var t model.Template
	var subjectsJSON, bodiesJSON string
	var lastUsed sql.NullTime

	err := row.Scan(
		&t.ID, &t.Name, &t.Stage, &subjectsJSON, &bodiesJSON, &t.Active, &t.TimesUsed,
		&lastUsed, &t.TotalSent, &t.TotalReplies, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.LastUsedAt = nullTimePtr(lastUsed)
	if err := json.Unmarshal([]byte(subjectsJSON), &t.Subjects); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal subjects")
	}
	if err := json.Unmarshal([]byte(bodiesJSON), &t.Bodies); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal bodies")
	}
	return &t, nil
}

func (s *SQLiteStore) RecordTemplateUse(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET times_used = times_used + 1, total_sent = total_sent + 1,
		   last_used_at = ?, updated_at = ?
		 WHERE id = ?`,
		at, at, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record template use %s", id)
	}
	return checkRowsAffected(res, "template", id)
}

func (s *SQLiteStore) RecordTemplateReply(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET total_replies = total_replies + 1, updated_at = datetime('now') WHERE id = ?`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record template reply %s", id)
	}
	return checkRowsAffected(res, "template", id)
}

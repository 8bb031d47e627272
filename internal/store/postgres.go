package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const leadColumns = `id, first_name, last_name, email, company, industry, title, source, status,
	followup_stage, followup_due_date, reply_detected, reply_detected_at, thread_id,
	last_message_id, emails_sent, last_contacted_at, last_email_subject, metadata, notes,
	imported_at, created_at, updated_at`

const emailLogColumns = `id, lead_id, lead_email, lead_name, company, subject, body, template_used,
	sent_at, message_id, thread_id, followup_stage, followup_scheduled_for, status, replied,
	replied_at, error_message`

const (
	selectInitialSQL = `SELECT ` + leadColumns + ` FROM leads
	 WHERE status = 'new' AND reply_detected = false AND followup_stage = 0
	 ORDER BY imported_at ASC LIMIT $1`

	selectDueFollowupsSQL = `SELECT ` + leadColumns + ` FROM leads
	 WHERE reply_detected = false
	   AND status NOT IN ('replied', 'engaged', 'unsubscribed')
	   AND followup_stage BETWEEN 1 AND 3
	   AND followup_due_date IS NOT NULL AND followup_due_date <= $1
	 ORDER BY followup_due_date ASC LIMIT $2`

	advanceLeadSQL = `UPDATE leads SET status = $1, followup_stage = $2, followup_due_date = $3,
	   thread_id = COALESCE(NULLIF($4, ''), thread_id), last_message_id = $5,
	   last_email_subject = $6, emails_sent = emails_sent + 1,
	   last_contacted_at = $7, updated_at = $7
	 WHERE id = $8 AND followup_stage = $9 AND reply_detected = false`

	insertEmailLogSQL = `INSERT INTO email_logs (` + emailLogColumns + `)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	markRepliedSQL = `UPDATE leads SET reply_detected = true, reply_detected_at = $1,
	   status = 'replied', followup_due_date = NULL, updated_at = $1
	 WHERE id = $2 AND reply_detected = false`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"select_initial":       selectInitialSQL,
	"select_due_followups": selectDueFollowupsSQL,
	"advance_lead":         advanceLeadSQL,
	"insert_email_log":     insertEmailLogSQL,
	"mark_replied":         markRepliedSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	first_name         TEXT NOT NULL DEFAULT '',
	last_name          TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL UNIQUE,
	company            TEXT NOT NULL DEFAULT '',
	industry           TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL DEFAULT 'manual',
	status             TEXT NOT NULL DEFAULT 'new',
	followup_stage     INTEGER NOT NULL DEFAULT 0,
	followup_due_date  TIMESTAMPTZ,
	reply_detected     BOOLEAN NOT NULL DEFAULT false,
	reply_detected_at  TIMESTAMPTZ,
	thread_id          TEXT NOT NULL DEFAULT '',
	last_message_id    TEXT NOT NULL DEFAULT '',
	emails_sent        INTEGER NOT NULL DEFAULT 0,
	last_contacted_at  TIMESTAMPTZ,
	last_email_subject TEXT NOT NULL DEFAULT '',
	metadata           JSONB NOT NULL DEFAULT '{}',
	notes              TEXT NOT NULL DEFAULT '',
	imported_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_status_stage ON leads(status, followup_stage);
CREATE INDEX IF NOT EXISTS idx_leads_due_date ON leads(followup_due_date) WHERE followup_due_date IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_leads_reply ON leads(reply_detected);
CREATE INDEX IF NOT EXISTS idx_leads_imported_at ON leads(imported_at);

CREATE TABLE IF NOT EXISTS email_logs (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id                TEXT NOT NULL REFERENCES leads(id),
	lead_email             TEXT NOT NULL DEFAULT '',
	lead_name              TEXT NOT NULL DEFAULT '',
	company                TEXT NOT NULL DEFAULT '',
	subject                TEXT NOT NULL DEFAULT '',
	body                   TEXT NOT NULL DEFAULT '',
	template_used          TEXT NOT NULL DEFAULT '',
	sent_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	message_id             TEXT NOT NULL DEFAULT '',
	thread_id              TEXT NOT NULL DEFAULT '',
	followup_stage         INTEGER NOT NULL DEFAULT 0,
	followup_scheduled_for TIMESTAMPTZ,
	status                 TEXT NOT NULL DEFAULT 'sent',
	replied                BOOLEAN NOT NULL DEFAULT false,
	replied_at             TIMESTAMPTZ,
	error_message          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_email_logs_lead_id ON email_logs(lead_id);
CREATE INDEX IF NOT EXISTS idx_email_logs_sent_at ON email_logs(sent_at);
CREATE INDEX IF NOT EXISTS idx_email_logs_status ON email_logs(status);

CREATE TABLE IF NOT EXISTS templates (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name          TEXT NOT NULL UNIQUE,
	stage         TEXT NOT NULL,
	subjects      JSONB NOT NULL DEFAULT '[]',
	bodies        JSONB NOT NULL DEFAULT '[]',
	active        BOOLEAN NOT NULL DEFAULT true,
	times_used    INTEGER NOT NULL DEFAULT 0,
	last_used_at  TIMESTAMPTZ,
	total_sent    INTEGER NOT NULL DEFAULT 0,
	total_replies INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_templates_stage_active ON templates(stage, active);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var l model.Lead
	var metadataJSON []byte

	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Company, &l.Industry, &l.Title,
		&l.Source, &l.Status, &l.FollowupStage, &l.FollowupDueDate, &l.ReplyDetected,
		&l.ReplyDetectedAt, &l.ThreadID, &l.LastMessageID, &l.EmailsSent, &l.LastContactedAt,
		&l.LastEmailSubject, &metadataJSON, &l.Notes, &l.ImportedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &l.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal lead metadata")
		}
	}
	return &l, nil
}

func scanLeads(rows pgx.Rows) ([]model.Lead, error) {
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

// normalizeEmail lowercases and trims an address; the lead identity key.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
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
		return eris.Wrap(err, "postgres: marshal lead metadata")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, first_name, last_name, email, company, industry, title, source,
		   status, followup_stage, metadata, notes, imported_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (email) DO NOTHING`,
		lead.ID, lead.FirstName, lead.LastName, lead.Email, lead.Company, lead.Industry,
		lead.Title, string(lead.Source), string(lead.Status), lead.FollowupStage,
		metadataJSON, lead.Notes, lead.ImportedAt, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert lead")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrDuplicate, "postgres: lead %s", lead.Email)
	}
	return nil
}

// CreateLeads bulk-inserts leads, skipping emails already present. The
// returned count is the number of rows actually inserted.
func (s *PostgresStore) CreateLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(leads))
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
			return 0, eris.Wrap(err, "postgres: marshal lead metadata")
		}
		rows = append(rows, []any{
			l.ID, l.FirstName, l.LastName, normalizeEmail(l.Email), l.Company, l.Industry,
			l.Title, string(l.Source), string(l.Status), l.FollowupStage,
			metadataJSON, l.Notes, l.ImportedAt, now, now,
		})
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table: "leads",
		Columns: []string{
			"id", "first_name", "last_name", "email", "company", "industry", "title",
			"source", "status", "followup_stage", "metadata", "notes",
			"imported_at", "created_at", "updated_at",
		},
		ConflictKeys: []string{"email"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk insert leads")
	}
	return int(n), nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE email = $1`, normalizeEmail(email))
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead by email %s", email)
	}
	return l, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ReplyDetected != nil {
		query += fmt.Sprintf(` AND reply_detected = $%d`, argIdx)
		args = append(args, *filter.ReplyDetected)
		argIdx++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(` AND (email ILIKE $%d OR company ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)`,
			argIdx, argIdx, argIdx, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	leads, err := scanLeads(rows)
	return leads, eris.Wrap(err, "postgres: list leads iterate")
}

func (s *PostgresStore) CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count leads by status")
	}
	defer rows.Close()

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.LeadStatus(status)] = count
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count leads iterate")
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lead %s", id)
	}
	return nil
}

func (s *PostgresStore) SelectInitial(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx, selectInitialSQL, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select initial")
	}
	leads, err := scanLeads(rows)
	return leads, eris.Wrap(err, "postgres: select initial iterate")
}

func (s *PostgresStore) SelectDueFollowups(ctx context.Context, now time.Time, limit int) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx, selectDueFollowupsSQL, now, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select due followups")
	}
	leads, err := scanLeads(rows)
	return leads, eris.Wrap(err, "postgres: select due followups iterate")
}

func (s *PostgresStore) AdvanceLead(ctx context.Context, leadID string, fromStage int, adv LeadAdvance, log model.EmailLog) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: advance lead: begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, advanceLeadSQL,
		string(adv.Status), adv.FollowupStage, adv.FollowupDueDate, adv.ThreadID,
		adv.LastMessageID, adv.LastEmailSubject, adv.ContactedAt, leadID, fromStage,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStale, "postgres: lead %s expected stage %d", leadID, fromStage)
	}

	if err := insertEmailLogTx(ctx, tx, &log); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: advance lead: commit")
}

func insertEmailLogTx(ctx context.Context, tx pgx.Tx, log *model.EmailLog) error {
	fillEmailLogDefaults(log)
	_, err := tx.Exec(ctx, insertEmailLogSQL,
		log.ID, log.LeadID, log.LeadEmail, log.LeadName, log.Company, log.Subject, log.Body,
		log.TemplateUsed, log.SentAt, log.MessageID, log.ThreadID, log.FollowupStage,
		log.FollowupScheduledFor, string(log.Status), log.Replied, log.RepliedAt, log.ErrorMessage,
	)
	return eris.Wrap(err, "postgres: insert email log")
}

func fillEmailLogDefaults(log *model.EmailLog) {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.SentAt.IsZero() {
		log.SentAt = time.Now().UTC()
	}
	if log.Status == "" {
		log.Status = model.EmailLogStatusSent
	}
}

func (s *PostgresStore) MarkReplied(ctx context.Context, leadID string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: mark replied: begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, markRepliedSQL, at, leadID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark replied %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		// Either absent or already replied; replying twice is a no-op.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, leadID).Scan(&exists); err != nil {
			return eris.Wrapf(err, "postgres: mark replied check %s", leadID)
		}
		if !exists {
			return eris.Wrapf(ErrNotFound, "postgres: lead %s", leadID)
		}
		return eris.Wrap(tx.Commit(ctx), "postgres: mark replied: commit")
	}

	_, err = tx.Exec(ctx,
		`UPDATE email_logs SET replied = true, replied_at = $1 WHERE lead_id = $2 AND replied = false`,
		at, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: flag replied logs %s", leadID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: mark replied: commit")
}

// MarkUnresponsive moves leads that completed the sequence without a
// reply, and were last contacted before the cutoff, to unresponsive.
func (s *PostgresStore) MarkUnresponsive(ctx context.Context, lastContactBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = 'unresponsive', updated_at = now()
		 WHERE reply_detected = false AND followup_stage >= $1
		   AND status NOT IN ('replied', 'engaged', 'unsubscribed', 'unresponsive')
		   AND last_contacted_at IS NOT NULL AND last_contacted_at <= $2`,
		model.MaxFollowupStage, lastContactBefore,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark unresponsive")
	}
	return int(tag.RowsAffected()), nil
}

// RemoveDuplicateLeads merges leads sharing an email address into the
// oldest one and deletes the rest, repointing email history at the
// survivor. Only rows differing in casing can collide; the unique
// index rejects exact duplicates at insert time.
func (s *PostgresStore) RemoveDuplicateLeads(ctx context.Context) (int, error) {
	const dupes = `
		SELECT a.id FROM leads a
		JOIN leads b ON lower(a.email) = lower(b.email) AND a.id <> b.id
		WHERE a.created_at > b.created_at
		   OR (a.created_at = b.created_at AND a.id > b.id)`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: remove duplicates: begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE email_logs SET lead_id = (
		   SELECT k.id FROM leads k JOIN leads d ON lower(k.email) = lower(d.email)
		   WHERE d.id = email_logs.lead_id
		   ORDER BY k.created_at, k.id LIMIT 1)
		 WHERE lead_id IN (`+dupes+`)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: remove duplicates: repoint logs")
	}

	tag, err := tx.Exec(ctx, `DELETE FROM leads WHERE id IN (`+dupes+`)`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: remove duplicate leads")
	}
	return int(tag.RowsAffected()), eris.Wrap(tx.Commit(ctx), "postgres: remove duplicates: commit")
}

func (s *PostgresStore) AppendEmailLog(ctx context.Context, log *model.EmailLog) error {
	fillEmailLogDefaults(log)
	_, err := s.pool.Exec(ctx, insertEmailLogSQL,
		log.ID, log.LeadID, log.LeadEmail, log.LeadName, log.Company, log.Subject, log.Body,
		log.TemplateUsed, log.SentAt, log.MessageID, log.ThreadID, log.FollowupStage,
		log.FollowupScheduledFor, string(log.Status), log.Replied, log.RepliedAt, log.ErrorMessage,
	)
	return eris.Wrap(err, "postgres: append email log")
}

func scanEmailLog(row rowScanner) (*model.EmailLog, error) {
	var e model.EmailLog
	err := row.Scan(
		&e.ID, &e.LeadID, &e.LeadEmail, &e.LeadName, &e.Company, &e.Subject, &e.Body,
		&e.TemplateUsed, &e.SentAt, &e.MessageID, &e.ThreadID, &e.FollowupStage,
		&e.FollowupScheduledFor, &e.Status, &e.Replied, &e.RepliedAt, &e.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ListEmailLogs(ctx context.Context, filter EmailLogFilter) ([]model.EmailLog, error) {
	query := `SELECT ` + emailLogColumns + ` FROM email_logs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.LeadID != "" {
		query += fmt.Sprintf(` AND lead_id = $%d`, argIdx)
		args = append(args, filter.LeadID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY sent_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list email logs")
	}
	defer rows.Close()

	var logs []model.EmailLog
	for rows.Next() {
		e, err := scanEmailLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan email log")
		}
		logs = append(logs, *e)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list email logs iterate")
}

func (s *PostgresStore) CountEmailsSentSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_logs WHERE status = 'sent' AND sent_at >= $1`, since,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count emails sent")
}

func (s *PostgresStore) CountDueFollowups(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads
		 WHERE reply_detected = false
		   AND status NOT IN ('replied', 'engaged', 'unsubscribed')
		   AND followup_stage BETWEEN 1 AND 3
		   AND followup_due_date IS NOT NULL AND followup_due_date <= $1`, now,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count due followups")
}

func (s *PostgresStore) ListActiveThreads(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE reply_detected = false AND thread_id <> ''
		   AND status IN ('contacted', 'followup_1', 'followup_2', 'followup_3')
		 ORDER BY last_contacted_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active threads")
	}
	leads, err := scanLeads(rows)
	return leads, eris.Wrap(err, "postgres: list active threads iterate")
}

func (s *PostgresStore) RecentReplies(ctx context.Context, since time.Time) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE reply_detected = true AND reply_detected_at >= $1
		 ORDER BY reply_detected_at DESC`, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent replies")
	}
	leads, err := scanLeads(rows)
	return leads, eris.Wrap(err, "postgres: recent replies iterate")
}

// SeedTemplates inserts the given templates only when the table is
// empty; existing templates always win.
func (s *PostgresStore) SeedTemplates(ctx context.Context, templates []model.Template) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: seed templates: begin tx")
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM templates`).Scan(&count); err != nil {
		return 0, eris.Wrap(err, "postgres: count templates")
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
			return 0, eris.Wrap(err, "postgres: marshal subjects")
		}
		bodiesJSON, err := json.Marshal(t.Bodies)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal bodies")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO templates (id, name, stage, subjects, bodies, active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			t.ID, t.Name, string(t.Stage), subjectsJSON, bodiesJSON, t.Active, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: insert template %s", t.Name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: seed templates: commit")
	}
	return len(templates), nil
}

const templateColumns = `id, name, stage, subjects, bodies, active, times_used, last_used_at,
	total_sent, total_replies, created_at, updated_at`

func scanTemplate(row rowScanner) (*model.Template, error) {
	var t model.Template
	var subjectsJSON, bodiesJSON []byte

	err := row.Scan(
		&t.ID, &t.Name, &t.Stage, &subjectsJSON, &bodiesJSON, &t.Active, &t.TimesUsed,
		&t.LastUsedAt, &t.TotalSent, &t.TotalReplies, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(subjectsJSON, &t.Subjects); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal subjects")
	}
	if err := json.Unmarshal(bodiesJSON, &t.Bodies); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal bodies")
	}
	return &t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY stage, name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list templates")
	}
	defer rows.Close()

	var templates []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan template")
		}
		templates = append(templates, *t)
	}
	return templates, eris.Wrap(rows.Err(), "postgres: list templates iterate")
}

func (s *PostgresStore) GetTemplatesByStage(ctx context.Context, stage model.TemplateStage) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE stage = $1 AND active = true ORDER BY name`,
		string(stage),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: templates for stage %s", stage)
	}
	defer rows.Close()

	var templates []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan template")
		}
		templates = append(templates, *t)
	}
	return templates, eris.Wrap(rows.Err(), "postgres: templates by stage iterate")
}

func (s *PostgresStore) RecordTemplateUse(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE templates SET times_used = times_used + 1, total_sent = total_sent + 1,
		   last_used_at = $1, updated_at = $1
		 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record template use %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: template %s", id)
	}
	return nil
}

func (s *PostgresStore) RecordTemplateReply(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE templates SET total_replies = total_replies + 1, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record template reply %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: template %s", id)
	}
	return nil
}

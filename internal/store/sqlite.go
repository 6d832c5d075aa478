package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/resilience"
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
	// One connection serializes writers; claims and counter bumps rely on it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	internet_id       TEXT NOT NULL DEFAULT '',
	thread_id         TEXT NOT NULL DEFAULT '',
	from_addr         TEXT NOT NULL DEFAULT '',
	to_addrs          TEXT NOT NULL DEFAULT '[]',
	subject           TEXT NOT NULL DEFAULT '',
	body_text         TEXT NOT NULL DEFAULT '',
	received_at       DATETIME NOT NULL,
	raw_key           TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL DEFAULT 'pending',
	is_submission     BOOLEAN,
	submission_type   TEXT NOT NULL DEFAULT '',
	submission_number INTEGER UNIQUE,
	reason            TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	reply_sent_at     DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(processing_status);

CREATE TABLE IF NOT EXISTS attachments (
	id            TEXT PRIMARY KEY,
	message_id    TEXT NOT NULL REFERENCES messages(id),
	filename      TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	size          INTEGER NOT NULL DEFAULT 0,
	blob_key      TEXT NOT NULL DEFAULT '',
	document_type TEXT NOT NULL DEFAULT 'other'
);

CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(message_id);

CREATE TABLE IF NOT EXISTS extraction_results (
	message_id       TEXT PRIMARY KEY REFERENCES messages(id),
	data             TEXT NOT NULL,
	warnings         TEXT NOT NULL DEFAULT '[]',
	confidence_flags TEXT NOT NULL DEFAULT '[]',
	fallback         BOOLEAN NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS field_extractions (
	id               TEXT PRIMARY KEY,
	message_id       TEXT NOT NULL REFERENCES messages(id),
	field_path       TEXT NOT NULL,
	field_name       TEXT NOT NULL,
	field_value      TEXT,
	source           TEXT NOT NULL,
	evidence_snippet TEXT NOT NULL DEFAULT '',
	reasoning        TEXT NOT NULL DEFAULT '',
	seq              INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_field_extractions_message_id ON field_extractions(message_id);

CREATE TABLE IF NOT EXISTS submission_counter (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	last_number INTEGER NOT NULL
);

INSERT OR IGNORE INTO submission_counter (id, last_number) VALUES (1, 0);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	message_id     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	stage          TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	prepareNewMessage(msg)
	toJSON, err := json.Marshal(msg.To)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal recipients")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, internet_id, thread_id, from_addr, to_addrs, subject, body_text, received_at,
		 raw_key, processing_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.InternetID, msg.ThreadID, msg.From, string(toJSON), msg.Subject, msg.BodyText, msg.ReceivedAt,
		msg.RawKey, string(msg.Status), msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert message %s", msg.ID)
	}
	n, err := res.RowsAffected()
	return n == 1, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: message %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get message %s", id)
	}
	return m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND processing_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY received_at DESC`

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
		return nil, eris.Wrap(err, "sqlite: list messages")
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: list messages iterate")
}

// ClaimMessage is a single compare-and-set UPDATE; the status read afterwards
// only explains a lost claim.
func (s *SQLiteStore) ClaimMessage(ctx context.Context, id string) (ClaimOutcome, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET processing_status = ?, error_message = '', updated_at = ?
		 WHERE id = ? AND processing_status NOT IN (?, ?)`,
		string(model.StatusProcessing), time.Now().UTC(), id,
		string(model.StatusDone), string(model.StatusProcessing),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: claim message %s", id)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", eris.Wrap(err, "sqlite: rows affected")
	} else if n == 1 {
		return ClaimAcquired, nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT processing_status FROM messages WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "sqlite: message %s", id)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: read status %s", id)
	}
	if outcome, acquired := claimOutcomeFor(model.ProcessingStatus(status)); !acquired {
		return outcome, nil
	}
	return ClaimAlreadyProcessing, nil
}

func (s *SQLiteStore) MarkNotSubmission(ctx context.Context, id, reason string) error {
	return s.execMessage(ctx, id, "mark not submission",
		`UPDATE messages SET is_submission = 0, processing_status = ?, reason = ?, error_message = '', updated_at = ?
		 WHERE id = ?`,
		string(model.StatusDone), reason, time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) MarkDone(ctx context.Context, id, reason string) error {
	return s.execMessage(ctx, id, "mark done",
		`UPDATE messages SET processing_status = ?, reason = ?, error_message = '', updated_at = ? WHERE id = ?`,
		string(model.StatusDone), reason, time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) MarkError(ctx context.Context, id, errMsg string) error {
	return s.execMessage(ctx, id, "mark error",
		`UPDATE messages SET processing_status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusError), errMsg, time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) MarkReplySent(ctx context.Context, id string, at time.Time) error {
	return s.execMessage(ctx, id, "mark reply sent",
		`UPDATE messages SET reply_sent_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) FinalizeSubmission(ctx context.Context, id string, subType model.SubmissionType) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin finalize")
	}
	defer func() { _ = tx.Rollback() }()

	var existing sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT submission_number FROM messages WHERE id = ?`, id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "sqlite: message %s", id)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: read submission number %s", id)
	}

	number := existing.Int64
	if !existing.Valid {
		if err := tx.QueryRowContext(ctx,
			`UPDATE submission_counter SET last_number = last_number + 1 WHERE id = 1 RETURNING last_number`,
		).Scan(&number); err != nil {
			return 0, eris.Wrap(err, "sqlite: next submission number")
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET is_submission = 1, submission_type = ?, submission_number = ?,
		 processing_status = ?, error_message = '', updated_at = ? WHERE id = ?`,
		string(subType), number, string(model.StatusDone), time.Now().UTC(), id,
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: finalize message %s", id)
	}
	return number, eris.Wrap(tx.Commit(), "sqlite: commit finalize")
}

func (s *SQLiteStore) ResetMessage(ctx context.Context, id string, force bool) error {
	query := `UPDATE messages SET processing_status = ?, is_submission = NULL, submission_type = '',
		reason = '', error_message = '', updated_at = ?`
	if force {
		query += `, reply_sent_at = NULL`
	}
	query += ` WHERE id = ?`
	return s.execMessage(ctx, id, "reset message", query, string(model.StatusPending), time.Now().UTC(), id)
}

func (s *SQLiteStore) execMessage(ctx context.Context, id, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s %s", op, id)
	}
	return checkRowsAffected(res, "message", id)
}

func (s *SQLiteStore) SaveAttachments(ctx context.Context, atts []model.Attachment) error {
	if len(atts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin attachments")
	}
	defer func() { _ = tx.Rollback() }()

	for i := range atts {
		a := &atts[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.DocumentType == "" {
			a.DocumentType = model.DocOther
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO attachments (id, message_id, filename, content_type, size, blob_key, document_type)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.MessageID, a.Filename, a.ContentType, a.Size, a.BlobKey, string(a.DocumentType),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert attachment %s", a.Filename)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit attachments")
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, filename, content_type, size, blob_key, document_type
		 FROM attachments WHERE message_id = ? ORDER BY filename, id`,
		messageID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list attachments %s", messageID)
	}
	defer rows.Close()

	var atts []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var docType string
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.Size, &a.BlobKey, &docType); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attachment")
		}
		a.DocumentType = model.DocumentType(docType)
		atts = append(atts, a)
	}
	return atts, eris.Wrap(rows.Err(), "sqlite: list attachments iterate")
}

func (s *SQLiteStore) SetDocumentType(ctx context.Context, attachmentID string, docType model.DocumentType) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE attachments SET document_type = ? WHERE id = ?`,
		string(docType), attachmentID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set document type %s", attachmentID)
	}
	return checkRowsAffected(res, "attachment", attachmentID)
}

func (s *SQLiteStore) SaveExtraction(ctx context.Context, result *model.ExtractionResult, records []model.ExtractionRecord) error {
	now := time.Now().UTC()
	dataJSON, warnJSON, flagJSON, err := marshalResult(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extraction")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin extraction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO extraction_results (message_id, data, warnings, confidence_flags, fallback, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (message_id) DO UPDATE SET
		   data = excluded.data, warnings = excluded.warnings, confidence_flags = excluded.confidence_flags,
		   fallback = excluded.fallback, updated_at = excluded.updated_at`,
		result.MessageID, string(dataJSON), string(warnJSON), string(flagJSON), result.Fallback, now, now,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert extraction result %s", result.MessageID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM field_extractions WHERE message_id = ?`, result.MessageID); err != nil {
		return eris.Wrapf(err, "sqlite: delete field extractions %s", result.MessageID)
	}

	for i, r := range records {
		var value sql.NullString
		if r.FieldValue != nil {
			b, err := json.Marshal(r.FieldValue)
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal field %s", r.FieldPath)
			}
			value = sql.NullString{String: string(b), Valid: true}
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO field_extractions
			 (id, message_id, field_path, field_name, field_value, source, evidence_snippet, reasoning, seq, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), result.MessageID, r.FieldPath, r.FieldName, value,
			r.Source, r.EvidenceSnippet, r.Reasoning, i, created,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert field %s", r.FieldPath)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit extraction")
}

func (s *SQLiteStore) GetExtraction(ctx context.Context, messageID string) (*model.ExtractionResult, []model.ExtractionRecord, error) {
	var res model.ExtractionResult
	var dataJSON, warnJSON, flagJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, data, warnings, confidence_flags, fallback, created_at, updated_at
		 FROM extraction_results WHERE message_id = ?`,
		messageID,
	).Scan(&res.MessageID, &dataJSON, &warnJSON, &flagJSON, &res.Fallback, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, eris.Wrapf(ErrNotFound, "sqlite: extraction %s", messageID)
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: get extraction %s", messageID)
	}
	if err := unmarshalResult(&res, []byte(dataJSON), []byte(warnJSON), []byte(flagJSON)); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: unmarshal extraction")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, field_path, field_name, field_value, source, evidence_snippet, reasoning, created_at
		 FROM field_extractions WHERE message_id = ? ORDER BY seq`,
		messageID,
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: list field extractions %s", messageID)
	}
	defer rows.Close()

	var records []model.ExtractionRecord
	for rows.Next() {
		var r model.ExtractionRecord
		var value sql.NullString
		if err := rows.Scan(&r.MessageID, &r.FieldPath, &r.FieldName, &value, &r.Source,
			&r.EvidenceSnippet, &r.Reasoning, &r.CreatedAt); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: scan field extraction")
		}
		if value.Valid {
			if err := json.Unmarshal([]byte(value.String), &r.FieldValue); err != nil {
				return nil, nil, eris.Wrapf(err, "sqlite: unmarshal field %s", r.FieldPath)
			}
		}
		records = append(records, r)
	}
	return &res, records, eris.Wrap(rows.Err(), "sqlite: list field extractions iterate")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	prepareDLQEntry(&entry)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, message_id, error, error_type, stage, retry_count, max_retries, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, stage = excluded.stage,
		   retry_count = excluded.retry_count, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.MessageID, entry.Error, entry.ErrorType, entry.Stage,
		entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, message_id, error, error_type, stage, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	if filter.MessageID != "" {
		query += ` AND message_id = ?`
		args = append(args, filter.MessageID)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY last_failed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Error, &e.ErrorType, &e.Stage,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

// helpers

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

func scanMessage(row scannable) (*model.Message, error) {
	var m model.Message
	var toJSON, status, subType string
	var isSub sql.NullBool
	var number sql.NullInt64
	var replied sql.NullTime

	err := row.Scan(&m.ID, &m.InternetID, &m.ThreadID, &m.From, &toJSON, &m.Subject, &m.BodyText, &m.ReceivedAt, &m.RawKey,
		&status, &isSub, &subType, &number, &m.Reason, &m.ErrorMessage, &replied,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	m.Status = model.ProcessingStatus(status)
	m.SubmissionType = model.SubmissionType(subType)
	if isSub.Valid {
		m.IsSubmission = &isSub.Bool
	}
	if number.Valid {
		m.SubmissionNumber = &number.Int64
	}
	if replied.Valid {
		t := replied.Time
		m.ReplySentAt = &t
	}
	if err := json.Unmarshal([]byte(toJSON), &m.To); err != nil {
		return nil, eris.Wrap(err, "unmarshal recipients")
	}
	return &m, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/submission-intake/internal/db"
	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/resilience"
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

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	internet_id       TEXT NOT NULL DEFAULT '',
	thread_id         TEXT NOT NULL DEFAULT '',
	from_addr         TEXT NOT NULL DEFAULT '',
	to_addrs          JSONB NOT NULL DEFAULT '[]',
	subject           TEXT NOT NULL DEFAULT '',
	body_text         TEXT NOT NULL DEFAULT '',
	received_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	raw_key           TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL DEFAULT 'pending',
	is_submission     BOOLEAN,
	submission_type   TEXT NOT NULL DEFAULT '',
	submission_number BIGINT UNIQUE,
	reason            TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	reply_sent_at     TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(processing_status);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at DESC);

CREATE TABLE IF NOT EXISTS attachments (
	id            TEXT PRIMARY KEY,
	message_id    TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	filename      TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	size          BIGINT NOT NULL DEFAULT 0,
	blob_key      TEXT NOT NULL DEFAULT '',
	document_type TEXT NOT NULL DEFAULT 'other'
);

CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(message_id);

CREATE TABLE IF NOT EXISTS extraction_results (
	message_id       TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
	data             JSONB NOT NULL,
	warnings         JSONB NOT NULL DEFAULT '[]',
	confidence_flags JSONB NOT NULL DEFAULT '[]',
	fallback         BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_extractions (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	message_id       TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	field_path       TEXT NOT NULL,
	field_name       TEXT NOT NULL,
	field_value      JSONB,
	source           TEXT NOT NULL,
	evidence_snippet TEXT NOT NULL DEFAULT '',
	reasoning        TEXT NOT NULL DEFAULT '',
	seq              INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE field_extractions ADD COLUMN IF NOT EXISTS seq INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_field_extractions_message_id ON field_extractions(message_id);

CREATE TABLE IF NOT EXISTS submission_counter (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	last_number BIGINT NOT NULL
);

INSERT INTO submission_counter (id, last_number) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	message_id     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	stage          TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_message_id ON dead_letter_queue(message_id);
`

const messageColumns = `id, internet_id, thread_id, from_addr, to_addrs, subject, body_text, received_at, raw_key,
	processing_status, is_submission, submission_type, submission_number, reason, error_message, reply_sent_at,
	created_at, updated_at`

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

// UpsertMessage inserts msg on first sight and reports whether it was new.
// An existing row is left untouched.
func (s *PostgresStore) UpsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	prepareNewMessage(msg)
	toJSON, err := json.Marshal(msg.To)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal recipients")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, internet_id, thread_id, from_addr, to_addrs, subject, body_text, received_at, raw_key,
		 processing_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.InternetID, msg.ThreadID, msg.From, toJSON, msg.Subject, msg.BodyText, msg.ReceivedAt, msg.RawKey,
		string(msg.Status), msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert message %s", msg.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanPgMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: message %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get message %s", id)
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND processing_status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY received_at DESC`

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
		return nil, eris.Wrap(err, "postgres: list messages")
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanPgMessage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: list messages iterate")
}

// ClaimMessage locks the row, inspects its status and moves it to
// processing when it is neither done nor already processing.
func (s *PostgresStore) ClaimMessage(ctx context.Context, id string) (ClaimOutcome, error) {
	var outcome ClaimOutcome
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT processing_status FROM messages WHERE id = $1 FOR UPDATE`, id,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: message %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lock message %s", id)
		}

		var acquire bool
		outcome, acquire = claimOutcomeFor(model.ProcessingStatus(status))
		if !acquire {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE messages SET processing_status = $1, error_message = '', updated_at = $2 WHERE id = $3`,
			string(model.StatusProcessing), time.Now().UTC(), id,
		)
		return eris.Wrapf(err, "postgres: claim message %s", id)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *PostgresStore) MarkNotSubmission(ctx context.Context, id, reason string) error {
	return s.execMessage(ctx, id, "mark not submission",
		`UPDATE messages SET is_submission = false, processing_status = $1, reason = $2, error_message = '', updated_at = $3
		 WHERE id = $4`,
		string(model.StatusDone), reason, time.Now().UTC(), id,
	)
}

func (s *PostgresStore) MarkDone(ctx context.Context, id, reason string) error {
	return s.execMessage(ctx, id, "mark done",
		`UPDATE messages SET processing_status = $1, reason = $2, error_message = '', updated_at = $3 WHERE id = $4`,
		string(model.StatusDone), reason, time.Now().UTC(), id,
	)
}

func (s *PostgresStore) MarkError(ctx context.Context, id, errMsg string) error {
	return s.execMessage(ctx, id, "mark error",
		`UPDATE messages SET processing_status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(model.StatusError), errMsg, time.Now().UTC(), id,
	)
}

func (s *PostgresStore) MarkReplySent(ctx context.Context, id string, at time.Time) error {
	return s.execMessage(ctx, id, "mark reply sent",
		`UPDATE messages SET reply_sent_at = $1, updated_at = $2 WHERE id = $3`,
		at.UTC(), time.Now().UTC(), id,
	)
}

// FinalizeSubmission assigns the next submission number from the counter row
// and marks the message done, in one transaction. A message that already
// holds a number keeps it.
func (s *PostgresStore) FinalizeSubmission(ctx context.Context, id string, subType model.SubmissionType) (int64, error) {
	var number int64
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var existing pgtype.Int8
		err := tx.QueryRow(ctx,
			`SELECT submission_number FROM messages WHERE id = $1 FOR UPDATE`, id,
		).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: message %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lock message %s", id)
		}

		if existing.Valid {
			number = existing.Int64
		} else if err := tx.QueryRow(ctx,
			`UPDATE submission_counter SET last_number = last_number + 1 WHERE id = 1 RETURNING last_number`,
		).Scan(&number); err != nil {
			return eris.Wrap(err, "postgres: next submission number")
		}

		_, err = tx.Exec(ctx,
			`UPDATE messages SET is_submission = true, submission_type = $1, submission_number = $2,
			 processing_status = $3, error_message = '', updated_at = $4 WHERE id = $5`,
			string(subType), number, string(model.StatusDone), time.Now().UTC(), id,
		)
		return eris.Wrapf(err, "postgres: finalize message %s", id)
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

// ResetMessage returns a message to pending. The reply marker survives
// unless force is set, so a reprocessed message does not reply twice.
func (s *PostgresStore) ResetMessage(ctx context.Context, id string, force bool) error {
	query := `UPDATE messages SET processing_status = $1, is_submission = NULL, submission_type = '',
		reason = '', error_message = '', updated_at = $2`
	if force {
		query += `, reply_sent_at = NULL`
	}
	query += ` WHERE id = $3`
	return s.execMessage(ctx, id, "reset message", query, string(model.StatusPending), time.Now().UTC(), id)
}

func (s *PostgresStore) execMessage(ctx context.Context, id, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s %s", op, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: message %s", id)
	}
	return nil
}

func (s *PostgresStore) SaveAttachments(ctx context.Context, atts []model.Attachment) error {
	if len(atts) == 0 {
		return nil
	}
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		for i := range atts {
			a := &atts[i]
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			if a.DocumentType == "" {
				a.DocumentType = model.DocOther
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO attachments (id, message_id, filename, content_type, size, blob_key, document_type)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (id) DO NOTHING`,
				a.ID, a.MessageID, a.Filename, a.ContentType, a.Size, a.BlobKey, string(a.DocumentType),
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: insert attachment %s", a.Filename)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, filename, content_type, size, blob_key, document_type
		 FROM attachments WHERE message_id = $1 ORDER BY filename, id`,
		messageID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list attachments %s", messageID)
	}
	defer rows.Close()

	var atts []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var docType string
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.Size, &a.BlobKey, &docType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attachment")
		}
		a.DocumentType = model.DocumentType(docType)
		atts = append(atts, a)
	}
	return atts, eris.Wrap(rows.Err(), "postgres: list attachments iterate")
}

func (s *PostgresStore) SetDocumentType(ctx context.Context, attachmentID string, docType model.DocumentType) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attachments SET document_type = $1 WHERE id = $2`,
		string(docType), attachmentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set document type %s", attachmentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: attachment %s", attachmentID)
	}
	return nil
}

var fieldExtractionColumns = []string{
	"id", "message_id", "field_path", "field_name", "field_value", "source", "evidence_snippet", "reasoning", "seq", "created_at",
}

// fieldExtractionRows builds COPY rows for records. seq keeps the extraction
// order so reads return records the way they were produced.
func fieldExtractionRows(messageID string, records []model.ExtractionRecord, now time.Time) ([][]any, error) {
	rows := make([][]any, 0, len(records))
	for i, r := range records {
		var value []byte
		if r.FieldValue != nil {
			var err error
			if value, err = json.Marshal(r.FieldValue); err != nil {
				return nil, eris.Wrapf(err, "postgres: marshal field %s", r.FieldPath)
			}
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		rows = append(rows, []any{
			uuid.New().String(), messageID, r.FieldPath, r.FieldName, value,
			r.Source, r.EvidenceSnippet, r.Reasoning, int32(i), created,
		})
	}
	return rows, nil
}

// SaveExtraction upserts the merged result and replaces the message's field
// records in one transaction.
func (s *PostgresStore) SaveExtraction(ctx context.Context, result *model.ExtractionResult, records []model.ExtractionRecord) error {
	now := time.Now().UTC()
	dataJSON, warnJSON, flagJSON, err := marshalResult(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction")
	}

	rows, err := fieldExtractionRows(result.MessageID, records, now)
	if err != nil {
		return err
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO extraction_results (message_id, data, warnings, confidence_flags, fallback, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)
			 ON CONFLICT (message_id) DO UPDATE SET
			   data = $2, warnings = $3, confidence_flags = $4, fallback = $5, updated_at = $6`,
			result.MessageID, dataJSON, warnJSON, flagJSON, result.Fallback, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert extraction result %s", result.MessageID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM field_extractions WHERE message_id = $1`, result.MessageID); err != nil {
			return eris.Wrapf(err, "postgres: delete field extractions %s", result.MessageID)
		}
		_, err := db.CopyFrom(ctx, tx, "field_extractions", fieldExtractionColumns, rows)
		return err
	})
}

func (s *PostgresStore) GetExtraction(ctx context.Context, messageID string) (*model.ExtractionResult, []model.ExtractionRecord, error) {
	var res model.ExtractionResult
	var dataJSON, warnJSON, flagJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT message_id, data, warnings, confidence_flags, fallback, created_at, updated_at
		 FROM extraction_results WHERE message_id = $1`,
		messageID,
	).Scan(&res.MessageID, &dataJSON, &warnJSON, &flagJSON, &res.Fallback, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, eris.Wrapf(ErrNotFound, "postgres: extraction %s", messageID)
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "postgres: get extraction %s", messageID)
	}
	if err := unmarshalResult(&res, dataJSON, warnJSON, flagJSON); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: unmarshal extraction")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT message_id, field_path, field_name, field_value, source, evidence_snippet, reasoning, created_at
		 FROM field_extractions WHERE message_id = $1 ORDER BY seq`,
		messageID,
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "postgres: list field extractions %s", messageID)
	}
	defer rows.Close()

	var records []model.ExtractionRecord
	for rows.Next() {
		var r model.ExtractionRecord
		var value []byte
		if err := rows.Scan(&r.MessageID, &r.FieldPath, &r.FieldName, &value, &r.Source,
			&r.EvidenceSnippet, &r.Reasoning, &r.CreatedAt); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: scan field extraction")
		}
		if len(value) > 0 {
			if err := json.Unmarshal(value, &r.FieldValue); err != nil {
				return nil, nil, eris.Wrapf(err, "postgres: unmarshal field %s", r.FieldPath)
			}
		}
		records = append(records, r)
	}
	return &res, records, eris.Wrap(rows.Err(), "postgres: list field extractions iterate")
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	prepareDLQEntry(&entry)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, message_id, error, error_type, stage, retry_count, max_retries, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $3, error_type = $4, stage = $5, retry_count = $6, last_failed_at = $9`,
		entry.ID, entry.MessageID, entry.Error, entry.ErrorType, entry.Stage,
		entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, message_id, error, error_type, stage, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.MessageID != "" {
		query += fmt.Sprintf(` AND message_id = $%d`, argIdx)
		args = append(args, filter.MessageID)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY last_failed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Error, &e.ErrorType, &e.Stage,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func scanPgMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	var toJSON []byte
	var status, subType string
	err := row.Scan(&m.ID, &m.InternetID, &m.ThreadID, &m.From, &toJSON, &m.Subject, &m.BodyText, &m.ReceivedAt, &m.RawKey,
		&status, &m.IsSubmission, &subType, &m.SubmissionNumber, &m.Reason, &m.ErrorMessage, &m.ReplySentAt,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = model.ProcessingStatus(status)
	m.SubmissionType = model.SubmissionType(subType)
	if len(toJSON) > 0 {
		if err := json.Unmarshal(toJSON, &m.To); err != nil {
			return nil, eris.Wrap(err, "unmarshal recipients")
		}
	}
	return &m, nil
}

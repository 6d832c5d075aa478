package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

const lockStatusSQL = `SELECT processing_status FROM messages WHERE id = \$1 FOR UPDATE`

func TestPostgresStore_ClaimMessage_Acquired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockStatusSQL).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"processing_status"}).AddRow("pending"))
	mock.ExpectExec(`UPDATE messages SET processing_status = \$1`).
		WithArgs("processing", pgxmock.AnyArg(), "m1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	outcome, err := s.ClaimMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimMessage_NoOps(t *testing.T) {
	tests := []struct {
		status string
		want   ClaimOutcome
	}{
		{"done", ClaimAlreadyProcessed},
		{"processing", ClaimAlreadyProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)

			mock.ExpectBegin()
			mock.ExpectQuery(lockStatusSQL).
				WithArgs("m1").
				WillReturnRows(pgxmock.NewRows([]string{"processing_status"}).AddRow(tt.status))
			mock.ExpectCommit()

			outcome, err := s.ClaimMessage(context.Background(), "m1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_ClaimMessage_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockStatusSQL).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.ClaimMessage(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinalizeSubmission_UsesCounter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT submission_number FROM messages WHERE id = \$1 FOR UPDATE`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"submission_number"}).AddRow(nil))
	mock.ExpectQuery(`UPDATE submission_counter SET last_number = last_number \+ 1`).
		WillReturnRows(pgxmock.NewRows([]string{"last_number"}).AddRow(int64(42)))
	mock.ExpectExec(`UPDATE messages SET is_submission = true`).
		WithArgs("renewal", int64(42), "done", pgxmock.AnyArg(), "m1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := s.FinalizeSubmission(context.Background(), "m1", model.SubmissionRenewal)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinalizeSubmission_KeepsExistingNumber(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT submission_number FROM messages`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"submission_number"}).AddRow(int64(7)))
	mock.ExpectExec(`UPDATE messages SET is_submission = true`).
		WithArgs("new_business", int64(7), "done", pgxmock.AnyArg(), "m1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := s.FinalizeSubmission(context.Background(), "m1", model.SubmissionNewBusiness)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO extraction_results`).
		WithArgs("m1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM field_extractions WHERE message_id = \$1`).
		WithArgs("m1").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"field_extractions"}, fieldExtractionColumns).WillReturnResult(2)
	mock.ExpectCommit()

	err := s.SaveExtraction(context.Background(),
		&model.ExtractionResult{MessageID: "m1", Data: map[string]any{}},
		[]model.ExtractionRecord{
			{FieldPath: "submission.namedInsured", FieldName: "namedInsured", FieldValue: "Acme", Source: "email"},
			{FieldPath: "submission.fein", FieldName: "fein", Source: "other"},
		})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction_CopyFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO extraction_results`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM field_extractions`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"field_extractions"}, fieldExtractionColumns).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := s.SaveExtraction(context.Background(),
		&model.ExtractionResult{MessageID: "m1"},
		[]model.ExtractionRecord{{FieldPath: "a", FieldName: "a", Source: "other"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO field_extractions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFieldExtractionRows_CarriesSeq(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []model.ExtractionRecord{
		{FieldPath: "submission.namedInsured", FieldName: "namedInsured", FieldValue: "Acme", Source: "email"},
		{FieldPath: "locations[0].city", FieldName: "city", Source: "other"},
		{FieldPath: "coverage.totalInsuredValue", FieldName: "totalInsuredValue", FieldValue: 1000.0, Source: "sov"},
	}

	rows, err := fieldExtractionRows("m1", records, now)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	seqIdx, pathIdx := -1, -1
	for i, c := range fieldExtractionColumns {
		switch c {
		case "seq":
			seqIdx = i
		case "field_path":
			pathIdx = i
		}
	}
	require.NotEqual(t, -1, seqIdx)
	for i, row := range rows {
		require.Len(t, row, len(fieldExtractionColumns))
		assert.Equal(t, int32(i), row[seqIdx])
		assert.Equal(t, records[i].FieldPath, row[pathIdx])
	}
	assert.Nil(t, rows[1][4])
	assert.Equal(t, now, rows[0][len(fieldExtractionColumns)-1])
}

func TestPostgresStore_GetExtraction_OrdersBySeq(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM extraction_results WHERE message_id = \$1`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "data", "warnings", "confidence_flags", "fallback", "created_at", "updated_at"}).
			AddRow("m1", []byte(`{}`), []byte(`[]`), []byte(`[]`), false, now, now))
	mock.ExpectQuery(`FROM field_extractions WHERE message_id = \$1 ORDER BY seq`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "field_path", "field_name", "field_value", "source", "evidence_snippet", "reasoning", "created_at"}).
			AddRow("m1", "submission.namedInsured", "namedInsured", []byte(`"Acme"`), "email", "", "", now).
			AddRow("m1", "locations[0].city", "city", []byte(nil), "other", "", "", now))

	res, records, err := s.GetExtraction(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", res.MessageID)
	require.Len(t, records, 2)
	assert.Equal(t, "submission.namedInsured", records[0].FieldPath)
	assert.Equal(t, "Acme", records[0].FieldValue)
	assert.Equal(t, "locations[0].city", records[1].FieldPath)
	assert.Nil(t, records[1].FieldValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertMessage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO messages .* ON CONFLICT \(id\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO messages`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	msg := &model.Message{ID: "m1", Subject: "Submission"}
	created, err := s.UpsertMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.StatusPending, msg.Status)
	assert.False(t, msg.ReceivedAt.IsZero())

	created, err = s.UpsertMessage(context.Background(), &model.Message{ID: "m1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMessage_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM messages WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetMessage(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkError_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE messages SET processing_status = \$1, error_message = \$2`).
		WithArgs("error", "boom", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkError(context.Background(), "missing", "boom")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetMessage_Force(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`reply_sent_at = NULL WHERE id = \$3`).
		WithArgs("pending", pgxmock.AnyArg(), "m1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.ResetMessage(context.Background(), "m1", true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO dead_letter_queue`).
		WithArgs(pgxmock.AnyArg(), "m1", "timeout", "transient", "process", 3, 3, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.EnqueueDLQ(context.Background(), resilience.DLQEntry{
		MessageID: "m1", Error: "timeout", Stage: "process", RetryCount: 3, MaxRetries: 3,
		LastFailedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

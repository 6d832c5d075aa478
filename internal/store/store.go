package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/resilience"
)

// ErrNotFound is returned when a message or extraction does not exist.
var ErrNotFound = errors.New("store: not found")

// ClaimOutcome is the result of an attempt to claim a message for processing.
type ClaimOutcome string

const (
	ClaimAcquired          ClaimOutcome = "acquired"
	ClaimAlreadyProcessed  ClaimOutcome = "already_processed"
	ClaimAlreadyProcessing ClaimOutcome = "already_processing"
)

// MessageFilter specifies criteria for listing messages.
type MessageFilter struct {
	Status model.ProcessingStatus `json:"status,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the intake pipeline.
type Store interface {
	// Messages
	UpsertMessage(ctx context.Context, msg *model.Message) (bool, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error)
	ClaimMessage(ctx context.Context, id string) (ClaimOutcome, error)
	MarkNotSubmission(ctx context.Context, id, reason string) error
	MarkDone(ctx context.Context, id, reason string) error
	MarkError(ctx context.Context, id, errMsg string) error
	MarkReplySent(ctx context.Context, id string, at time.Time) error
	FinalizeSubmission(ctx context.Context, id string, subType model.SubmissionType) (int64, error)
	ResetMessage(ctx context.Context, id string, force bool) error

	// Attachments
	SaveAttachments(ctx context.Context, atts []model.Attachment) error
	ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error)
	SetDocumentType(ctx context.Context, attachmentID string, docType model.DocumentType) error

	// Extraction
	SaveExtraction(ctx context.Context, result *model.ExtractionResult, records []model.ExtractionRecord) error
	GetExtraction(ctx context.Context, messageID string) (*model.ExtractionResult, []model.ExtractionRecord, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func claimOutcomeFor(status model.ProcessingStatus) (ClaimOutcome, bool) {
	switch status {
	case model.StatusDone:
		return ClaimAlreadyProcessed, false
	case model.StatusProcessing:
		return ClaimAlreadyProcessing, false
	default:
		return ClaimAcquired, true
	}
}

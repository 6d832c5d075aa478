// Package orchestrator drives one mailbox message through the pipeline:
// claim, classify, extract, QA, reply and finalize.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/blob"
	"github.com/sells-group/submission-intake/internal/classify"
	"github.com/sells-group/submission-intake/internal/doctext"
	"github.com/sells-group/submission-intake/internal/events"
	"github.com/sells-group/submission-intake/internal/extract"
	"github.com/sells-group/submission-intake/internal/fieldpath"
	"github.com/sells-group/submission-intake/internal/metrics"
	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/notify"
	"github.com/sells-group/submission-intake/internal/packager"
	"github.com/sells-group/submission-intake/internal/qa"
	"github.com/sells-group/submission-intake/internal/reply"
	"github.com/sells-group/submission-intake/internal/store"
)

// ErrNotFound is returned by ProcessMessage for an unknown message id.
var ErrNotFound = errors.New("orchestrator: message not found")

// Reasons reported in Outcome when the pipeline stops early.
const (
	ReasonAlreadyProcessed  = string(store.ClaimAlreadyProcessed)
	ReasonAlreadyProcessing = string(store.ClaimAlreadyProcessing)
	ReasonNotSubmission     = "not_submission"
	ReasonOwnMessage        = "sent_by_intake_mailbox"
)

// Extractor fills the field schema for one message.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Result, error)
}

// DocumentParser renders an attachment as text and never fails.
type DocumentParser interface {
	Parse(ctx context.Context, filename, contentType string, data []byte) string
}

// Deps are the collaborators of an Orchestrator. Events and Notifier may be
// nil.
type Deps struct {
	Store     store.Store
	Blobs     blob.Store
	Parser    DocumentParser
	Extractor Extractor
	Sender    reply.Sender
	Events    events.Publisher
	Notifier  notify.Notifier
	// Mailbox is the intake address; mail from it is never answered.
	Mailbox string
}

// Outcome is the result of ProcessMessage.
type Outcome struct {
	Processed        bool   `json:"processed"`
	Reason           string `json:"reason,omitempty"`
	SubmissionNumber int64  `json:"submission_number,omitempty"`
}

// Orchestrator runs the per-message state machine.
type Orchestrator struct {
	store     store.Store
	blobs     blob.Store
	parser    DocumentParser
	extractor Extractor
	sender    reply.Sender
	events    events.Publisher
	notifier  notify.Notifier
	mailbox   string
	now       func() time.Time
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:     d.Store,
		blobs:     d.Blobs,
		parser:    d.Parser,
		extractor: d.Extractor,
		sender:    d.Sender,
		events:    d.Events,
		notifier:  d.Notifier,
		mailbox:   strings.ToLower(strings.TrimSpace(d.Mailbox)),
		now:       time.Now,
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.notifier == nil {
		o.notifier = notify.Nop{}
	}
	return o
}

// ProcessMessage claims the message and runs the pipeline. A message already
// done or in flight returns Processed false with the claim outcome as reason.
// Any failure after the claim leaves the message in error and is returned.
func (o *Orchestrator) ProcessMessage(ctx context.Context, id string) (*Outcome, error) {
	log := zap.L().With(zap.String("message_id", id))

	claim, err := o.store.ClaimMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "orchestrator: claim %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: claim")
	}
	if claim != store.ClaimAcquired {
		log.Info("orchestrator: skipping message", zap.String("claim", string(claim)))
		metrics.MessagesProcessed.WithLabelValues(string(claim)).Inc()
		return &Outcome{Processed: false, Reason: string(claim)}, nil
	}

	out, err := o.run(ctx, id, log)
	if err != nil {
		o.fail(ctx, id, err, log)
		return nil, err
	}
	label := "submission"
	if out.Reason != "" {
		label = out.Reason
	}
	metrics.MessagesProcessed.WithLabelValues(label).Inc()
	return out, nil
}

// fail records err on the message and alerts. It runs on a context that
// survives cancellation of the caller.
func (o *Orchestrator) fail(ctx context.Context, id string, err error, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	metrics.MessagesProcessed.WithLabelValues("error").Inc()
	log.Error("orchestrator: processing failed", zap.Error(err))

	if markErr := o.store.MarkError(ctx, id, err.Error()); markErr != nil {
		log.Error("orchestrator: failed to record error", zap.Error(markErr))
	}
	subject := ""
	if msg, getErr := o.store.GetMessage(ctx, id); getErr == nil {
		subject = msg.Subject
	}
	if notifyErr := o.notifier.MessageFailed(ctx, id, subject, err); notifyErr != nil {
		log.Warn("orchestrator: failed to send alert", zap.Error(notifyErr))
	}
}

func (o *Orchestrator) run(ctx context.Context, id string, log *zap.Logger) (*Outcome, error) {
	msg, err := o.store.GetMessage(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load message")
	}

	if o.mailbox != "" && strings.EqualFold(strings.TrimSpace(msg.From), o.mailbox) {
		if err := o.store.MarkDone(ctx, id, "message was sent by the intake mailbox; not replying to avoid a loop"); err != nil {
			return nil, eris.Wrap(err, "orchestrator: mark own message")
		}
		log.Info("orchestrator: ignoring message from intake mailbox")
		return &Outcome{Processed: true, Reason: ReasonOwnMessage}, nil
	}

	atts, err := o.store.ListAttachments(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: list attachments")
	}

	email := msg.Email()
	cls := classify.IsSubmission(email, atts)
	if !cls.IsSubmission {
		if err := o.store.MarkNotSubmission(ctx, id, cls.Reason); err != nil {
			return nil, eris.Wrap(err, "orchestrator: mark not submission")
		}
		log.Info("orchestrator: not a submission", zap.String("reason", cls.Reason))
		return &Outcome{Processed: true, Reason: ReasonNotSubmission}, nil
	}
	subType := classify.SubmissionType(email)
	log.Info("orchestrator: submission detected",
		zap.String("reason", cls.Reason),
		zap.String("submission_type", string(subType)),
		zap.Int("attachments", len(atts)),
	)

	for i := range atts {
		atts[i].DocumentType = classify.DocumentType(atts[i].Filename, atts[i].ContentType)
		if err := o.store.SetDocumentType(ctx, atts[i].ID, atts[i].DocumentType); err != nil {
			return nil, eris.Wrapf(err, "orchestrator: set document type for %s", atts[i].Filename)
		}
	}

	docs := o.renderDocuments(ctx, atts, log)

	res, err := o.extractor.Extract(ctx, extract.Input{MessageID: id, Email: email, Documents: docs})
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: extract")
	}

	flags := qa.Check(res.Data, o.now())
	if res.Fallback {
		flags.ConfidenceFlags = append(flags.ConfidenceFlags,
			"fallback_extraction: extraction was rate limited; values come from pattern matching")
	}
	result := &model.ExtractionResult{
		MessageID:       id,
		Data:            res.Data,
		Warnings:        flags.Warnings,
		ConfidenceFlags: flags.ConfidenceFlags,
		Fallback:        res.Fallback,
	}

	pkg := packager.Build(packager.Input{Email: email, Result: result, Records: res.Records})

	if err := o.store.SaveExtraction(ctx, result, res.Records); err != nil {
		return nil, eris.Wrap(err, "orchestrator: save extraction")
	}

	if msg.ReplySentAt != nil {
		log.Info("orchestrator: reply already sent, skipping", zap.Time("reply_sent_at", *msg.ReplySentAt))
	} else {
		if err := o.sender.Send(ctx, msg.From, pkg); err != nil {
			return nil, eris.Wrap(err, "orchestrator: send reply")
		}
		if err := o.store.MarkReplySent(ctx, id, o.now()); err != nil {
			return nil, eris.Wrap(err, "orchestrator: record reply")
		}
	}

	number, err := o.store.FinalizeSubmission(ctx, id, subType)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: finalize")
	}
	log.Info("orchestrator: submission finalized",
		zap.Int64("submission_number", number),
		zap.Int("warnings", len(flags.Warnings)),
		zap.Int("confidence_flags", len(flags.ConfidenceFlags)),
	)

	insured, _ := fieldpath.Get(res.Data, "submission.namedInsured")
	name, _ := insured.(string)
	if err := o.events.PublishFinalized(ctx, events.Finalized{
		MessageID:        id,
		SubmissionNumber: number,
		SubmissionType:   string(subType),
		NamedInsured:     name,
	}); err != nil {
		log.Warn("orchestrator: failed to publish finalized event", zap.Error(err))
	}

	return &Outcome{Processed: true, SubmissionNumber: number}, nil
}

// renderDocuments reads each attachment and converts it to text. A blob that
// cannot be read becomes an error placeholder like any parse failure.
func (o *Orchestrator) renderDocuments(ctx context.Context, atts []model.Attachment, log *zap.Logger) []extract.Document {
	docs := make([]extract.Document, 0, len(atts))
	for _, a := range atts {
		var text string
		data, err := blob.ReadAll(ctx, o.blobs, a.BlobKey)
		if err != nil {
			log.Warn("orchestrator: attachment unreadable", zap.String("filename", a.Filename), zap.Error(err))
			text = doctext.ErrorText(a.Filename, err)
		} else {
			text = o.parser.Parse(ctx, a.Filename, a.ContentType, data)
		}
		docs = append(docs, extract.Document{Filename: a.Filename, Type: a.DocumentType, Text: text})
	}
	return docs
}

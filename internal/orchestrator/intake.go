package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/blob"
	"github.com/sells-group/submission-intake/internal/mailbox"
	"github.com/sells-group/submission-intake/internal/model"
)

// idNamespace derives stable ids for uploads and attachments.
var idNamespace = uuid.MustParse("4f8e1c2a-9b7d-4e3f-a5c6-2d1b0e9f8a7c")

// MessageIDFor returns a stable id for a message uploaded without a mailbox
// id. Messages with the same Message-ID header map to the same id.
func MessageIDFor(parsed *mailbox.Parsed) string {
	if parsed.InternetID != "" {
		return uuid.NewSHA1(idNamespace, []byte("message:"+parsed.InternetID)).String()
	}
	return uuid.NewString()
}

func attachmentID(messageID string, index int) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("attachment:%s:%d", messageID, index))).String()
}

// Ingest parses raw, stores the raw message and its attachments in the blob
// store and records the message as pending. An empty id derives one from the
// Message-ID header. Ingesting the same message twice is harmless; created
// reports whether the message row is new.
func (o *Orchestrator) Ingest(ctx context.Context, id string, raw []byte) (msg *model.Message, created bool, err error) {
	parsed, err := mailbox.Parse(raw)
	if err != nil {
		return nil, false, eris.Wrap(err, "orchestrator: parse message")
	}
	if strings.TrimSpace(id) == "" {
		id = MessageIDFor(parsed)
	}
	log := zap.L().With(zap.String("message_id", id))

	rawKey := blob.RawKey(id)
	if err := o.blobs.Put(ctx, rawKey, raw, "message/rfc822"); err != nil {
		return nil, false, eris.Wrap(err, "orchestrator: store raw message")
	}

	atts := make([]model.Attachment, 0, len(parsed.Attachments))
	for i, pa := range parsed.Attachments {
		attID := attachmentID(id, i)
		key := blob.AttachmentKey(id, attID, pa.Filename)
		if err := o.blobs.Put(ctx, key, pa.Data, pa.ContentType); err != nil {
			return nil, false, eris.Wrapf(err, "orchestrator: store attachment %s", pa.Filename)
		}
		atts = append(atts, model.Attachment{
			ID:           attID,
			MessageID:    id,
			Filename:     pa.Filename,
			ContentType:  pa.ContentType,
			Size:         int64(len(pa.Data)),
			BlobKey:      key,
			DocumentType: model.DocOther,
		})
	}

	msg = &model.Message{
		ID:         id,
		InternetID: parsed.InternetID,
		ThreadID:   parsed.ThreadID,
		From:       parsed.From,
		To:         parsed.To,
		Subject:    parsed.Subject,
		BodyText:   parsed.Body,
		ReceivedAt: parsed.Date,
		RawKey:     rawKey,
		Status:     model.StatusPending,
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = o.now().UTC()
	}
	created, err = o.store.UpsertMessage(ctx, msg)
	if err != nil {
		return nil, false, eris.Wrap(err, "orchestrator: upsert message")
	}
	if err := o.store.SaveAttachments(ctx, atts); err != nil {
		return nil, false, eris.Wrap(err, "orchestrator: save attachments")
	}

	log.Info("orchestrator: message ingested",
		zap.Bool("created", created),
		zap.String("from", msg.From),
		zap.Int("attachments", len(atts)),
	)
	return msg, created, nil
}

package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/resilience"
)

func prepareNewMessage(m *model.Message) {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = model.StatusPending
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = now
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.To == nil {
		m.To = []string{}
	}
}

func prepareDLQEntry(e *resilience.DLQEntry) {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ErrorType == "" {
		e.ErrorType = "transient"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastFailedAt.IsZero() {
		e.LastFailedAt = now
	}
}

func marshalResult(r *model.ExtractionResult) (data, warnings, flags []byte, err error) {
	if data, err = json.Marshal(r.Data); err != nil {
		return nil, nil, nil, err
	}
	if warnings, err = json.Marshal(nonNil(r.Warnings)); err != nil {
		return nil, nil, nil, err
	}
	if flags, err = json.Marshal(nonNil(r.ConfidenceFlags)); err != nil {
		return nil, nil, nil, err
	}
	return data, warnings, flags, nil
}

func unmarshalResult(r *model.ExtractionResult, data, warnings, flags []byte) error {
	if err := json.Unmarshal(data, &r.Data); err != nil {
		return err
	}
	if err := json.Unmarshal(warnings, &r.Warnings); err != nil {
		return err
	}
	return json.Unmarshal(flags, &r.ConfidenceFlags)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

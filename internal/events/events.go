// Package events publishes pipeline milestones to NATS for downstream
// consumers.
package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
)

// DefaultSubject carries finalized-submission events.
const DefaultSubject = "intake.submission.finalized"

// Finalized is published once a submission has been numbered and replied to.
type Finalized struct {
	MessageID        string `json:"message_id"`
	SubmissionNumber int64  `json:"submission_number"`
	SubmissionType   string `json:"submission_type"`
	NamedInsured     string `json:"named_insured,omitempty"`
}

// Publisher emits pipeline events.
type Publisher interface {
	PublishFinalized(ctx context.Context, ev Finalized) error
}

// natsConn is the slice of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes JSON events on a core NATS subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

// Connect dials url and returns a publisher for subject.
func Connect(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("submission-intake"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, eris.Wrap(err, "events: connect nats")
	}
	return newPublisher(conn, subject), nil
}

func newPublisher(conn natsConn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// PublishFinalized marshals ev and publishes it.
func (p *NATSPublisher) PublishFinalized(ctx context.Context, ev Finalized) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "events: publish")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal finalized")
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return eris.Wrapf(err, "events: publish %s", p.subject)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Nop discards events. Used when no NATS URL is configured.
type Nop struct{}

// PublishFinalized does nothing.
func (Nop) PublishFinalized(context.Context, Finalized) error { return nil }

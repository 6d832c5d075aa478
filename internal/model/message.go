package model

import (
	"strings"
	"time"
)

// ProcessingStatus tracks where a mailbox message sits in the pipeline.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusDone       ProcessingStatus = "done"
	StatusError      ProcessingStatus = "error"
)

// IsTerminal reports whether no further automatic processing should occur.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// SubmissionType is the coarse business category of a submission.
type SubmissionType string

const (
	SubmissionRenewal     SubmissionType = "renewal"
	SubmissionEndorsement SubmissionType = "endorsement"
	SubmissionNewBusiness SubmissionType = "new_business"
	SubmissionOther       SubmissionType = "other"
)

// Message is one inbound email as persisted by intake.
type Message struct {
	ID               string           `json:"id"`
	InternetID       string           `json:"internet_id,omitempty"`
	ThreadID         string           `json:"thread_id,omitempty"`
	From             string           `json:"from"`
	To               []string         `json:"to"`
	Subject          string           `json:"subject"`
	BodyText         string           `json:"body_text"`
	ReceivedAt       time.Time        `json:"received_at"`
	RawKey           string           `json:"raw_key,omitempty"`
	Status           ProcessingStatus `json:"processing_status"`
	IsSubmission     *bool            `json:"is_submission,omitempty"`
	SubmissionType   SubmissionType   `json:"submission_type,omitempty"`
	SubmissionNumber *int64           `json:"submission_number,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	ReplySentAt      *time.Time       `json:"reply_sent_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Email returns the realized email view used by classifiers and extraction.
func (m *Message) Email() Email {
	return Email{
		From:    m.From,
		To:      m.To,
		Subject: m.Subject,
		Body:    m.BodyText,
		Date:    m.ReceivedAt,
	}
}

// Email is the header and body view of a message.
type Email struct {
	From    string    `json:"from"`
	To      []string  `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
}

// Header renders the email header block placed ahead of the body text.
func (e Email) Header() string {
	var b strings.Builder
	b.WriteString("From: " + e.From + "\n")
	if len(e.To) > 0 {
		b.WriteString("To: " + strings.Join(e.To, ", ") + "\n")
	}
	b.WriteString("Subject: " + e.Subject + "\n")
	if !e.Date.IsZero() {
		b.WriteString("Date: " + e.Date.Format(time.RFC1123Z) + "\n")
	}
	return b.String()
}

// Attachment is a file carried by a message.
type Attachment struct {
	ID           string       `json:"id"`
	MessageID    string       `json:"message_id"`
	Filename     string       `json:"filename"`
	ContentType  string       `json:"content_type"`
	Size         int64        `json:"size"`
	BlobKey      string       `json:"blob_key"`
	DocumentType DocumentType `json:"document_type,omitempty"`
}

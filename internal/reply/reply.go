// Package reply sends the packaged extraction back to the submitting broker.
package reply

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/msgraph"
	"github.com/sells-group/submission-intake/internal/packager"
)

// Sender dispatches a reply to one recipient.
type Sender interface {
	Send(ctx context.Context, to string, p packager.Package) error
}

// GraphSender sends mail as the intake mailbox through Graph sendMail.
type GraphSender struct {
	client  *msgraph.Client
	mailbox string
}

// NewGraphSender creates a sender that mails from the given address.
func NewGraphSender(client *msgraph.Client, mailbox string) *GraphSender {
	return &GraphSender{client: client, mailbox: mailbox}
}

type emailAddress struct {
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type outgoingMessage struct {
	Subject      string      `json:"subject"`
	Body         itemBody    `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
}

type sendMailRequest struct {
	Message         outgoingMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// Send posts the package as a plain-text message to to.
func (s *GraphSender) Send(ctx context.Context, to string, p packager.Package) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return eris.New("reply: no recipient")
	}
	req := sendMailRequest{
		Message: outgoingMessage{
			Subject:      p.Subject,
			Body:         itemBody{ContentType: "Text", Content: p.Body},
			ToRecipients: []recipient{{EmailAddress: emailAddress{Address: to}}},
		},
		SaveToSentItems: true,
	}
	path := fmt.Sprintf("/users/%s/sendMail", url.PathEscape(s.mailbox))
	if err := s.client.JSON(ctx, http.MethodPost, path, req, nil); err != nil {
		return eris.Wrapf(err, "reply: send to %s", to)
	}
	return nil
}

// LogSender writes replies to the log instead of sending them. It stands in
// for GraphSender when no mailbox credentials are configured.
type LogSender struct{}

// Send logs the reply subject and summary.
func (LogSender) Send(_ context.Context, to string, p packager.Package) error {
	zap.L().Info("reply: mailbox not configured, reply not sent",
		zap.String("to", to),
		zap.String("subject", p.Subject),
		zap.String("summary", p.Summary),
	)
	return nil
}

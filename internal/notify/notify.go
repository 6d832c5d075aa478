// Package notify alerts operators in Slack when a message cannot be
// processed.
package notify

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/slack-go/slack"
)

// Notifier reports failed messages.
type Notifier interface {
	MessageFailed(ctx context.Context, messageID, subject string, err error) error
	DeadLettered(ctx context.Context, messageID string, attempts int, err error) error
}

// slackClient is the Slack API method the notifier uses.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts alerts to one channel.
type Slack struct {
	client  slackClient
	channel string
}

// NewSlack creates a notifier using a bot token.
func NewSlack(token, channel string, opts ...slack.Option) *Slack {
	return &Slack{client: slack.New(token, opts...), channel: channel}
}

// MessageFailed reports a message that ended in error.
func (s *Slack) MessageFailed(ctx context.Context, messageID, subject string, err error) error {
	text := fmt.Sprintf(":warning: Submission intake failed for message `%s` (%q): %v", messageID, subject, err)
	return s.post(ctx, text, "danger")
}

// DeadLettered reports a polled message moved to the dead letter queue.
func (s *Slack) DeadLettered(ctx context.Context, messageID string, attempts int, err error) error {
	text := fmt.Sprintf(":rotating_light: Message `%s` dead-lettered after %d attempts: %v", messageID, attempts, err)
	return s.post(ctx, text, "danger")
}

func (s *Slack) post(ctx context.Context, text, color string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAttachments(slack.Attachment{Color: color, Fallback: text}),
	)
	if err != nil {
		return eris.Wrapf(err, "notify: post to %s", s.channel)
	}
	return nil
}

// Nop drops every alert. Used when Slack is not configured.
type Nop struct{}

// MessageFailed does nothing.
func (Nop) MessageFailed(context.Context, string, string, error) error { return nil }

// DeadLettered does nothing.
func (Nop) DeadLettered(context.Context, string, int, error) error { return nil }

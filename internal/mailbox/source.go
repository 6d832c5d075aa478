// Package mailbox lists, fetches and parses messages from the shared
// submissions mailbox.
package mailbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/submission-intake/internal/msgraph"
)

// Source is the mailbox the poller drains.
type Source interface {
	// ListCandidateIdentifiers returns ids of messages not yet seen.
	ListCandidateIdentifiers(ctx context.Context) ([]string, error)
	// FetchRawMessage returns the RFC 822 bytes of a message.
	FetchRawMessage(ctx context.Context, id string) ([]byte, error)
	// MarkSeen flags the message as read so it is not listed again.
	MarkSeen(ctx context.Context, id string) error
}

// GraphSource reads a Microsoft 365 mailbox folder through Graph.
type GraphSource struct {
	client  *msgraph.Client
	mailbox string
	folder  string
	limit   int
}

// NewGraphSource creates a source for the given mailbox address and folder.
// limit bounds the ids returned per listing; zero means 50.
func NewGraphSource(client *msgraph.Client, mailbox, folder string, limit int) *GraphSource {
	if folder == "" {
		folder = "inbox"
	}
	if limit <= 0 {
		limit = 50
	}
	return &GraphSource{client: client, mailbox: mailbox, folder: folder, limit: limit}
}

type messagePage struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// ListCandidateIdentifiers returns unread message ids, oldest first.
func (s *GraphSource) ListCandidateIdentifiers(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("$filter", "isRead eq false")
	q.Set("$select", "id")
	q.Set("$orderby", "receivedDateTime asc")
	q.Set("$top", fmt.Sprint(min(s.limit, 50)))
	next := fmt.Sprintf("/users/%s/mailFolders/%s/messages?%s",
		url.PathEscape(s.mailbox), url.PathEscape(s.folder), q.Encode())

	var ids []string
	for next != "" && len(ids) < s.limit {
		var page messagePage
		if err := s.client.JSON(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, eris.Wrap(err, "mailbox: list unread")
		}
		for _, m := range page.Value {
			if len(ids) == s.limit {
				break
			}
			ids = append(ids, m.ID)
		}
		next = page.NextLink
	}
	return ids, nil
}

// FetchRawMessage downloads the MIME content of a message.
func (s *GraphSource) FetchRawMessage(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Raw(ctx, http.MethodGet, s.messagePath(id)+"/$value", nil)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: fetch %s", id)
	}
	return data, nil
}

// MarkSeen sets isRead on the message.
func (s *GraphSource) MarkSeen(ctx context.Context, id string) error {
	if err := s.client.JSON(ctx, http.MethodPatch, s.messagePath(id), map[string]bool{"isRead": true}, nil); err != nil {
		return eris.Wrapf(err, "mailbox: mark seen %s", id)
	}
	return nil
}

func (s *GraphSource) messagePath(id string) string {
	return fmt.Sprintf("/users/%s/messages/%s", url.PathEscape(s.mailbox), url.PathEscape(id))
}

package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlack(t *testing.T, h http.HandlerFunc) *Slack {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSlack("xoxb-test", "C123", slack.OptionAPIURL(srv.URL+"/"))
}

func TestSlack_MessageFailed(t *testing.T) {
	var form url.Values
	s := newTestSlack(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"channel":"C123","ts":"1.2"}`)
	})

	err := s.MessageFailed(context.Background(), "m-1", "Acme renewal", errors.New("extract: auth failed"))
	require.NoError(t, err)
	assert.Equal(t, "C123", form.Get("channel"))
	assert.Contains(t, form.Get("text"), "`m-1`")
	assert.Contains(t, form.Get("text"), "extract: auth failed")
}

func TestSlack_DeadLetteredError(t *testing.T) {
	s := newTestSlack(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":false,"error":"channel_not_found"}`)
	})
	err := s.DeadLettered(context.Background(), "m-1", 3, errors.New("boom"))
	assert.ErrorContains(t, err, "channel_not_found")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.MessageFailed(context.Background(), "m", "s", nil))
	assert.NoError(t, Nop{}.DeadLettered(context.Background(), "m", 1, nil))
}

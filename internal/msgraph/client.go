// Package msgraph is a thin Microsoft Graph REST client authenticated with
// the OAuth2 client-credentials grant.
package msgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sells-group/submission-intake/internal/resilience"
)

const (
	// DefaultBaseURL is the Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope     = "https://graph.microsoft.com/.default"
	maxErrorBody   = 4 << 10
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = eris.New("msgraph: not found")

// StatusError is a non-2xx Graph response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("msgraph: HTTP %d: %s", e.StatusCode, e.Body)
}

// Credentials identify an app registration in a tenant.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the tenant token endpoint.
	TokenURL string
}

// Client issues Graph requests with retry on throttling and 5xx.
type Client struct {
	http    *http.Client
	baseURL string
	retry   resilience.RetryConfig
}

// NewClient builds a client whose transport fetches and refreshes app-only
// tokens. ctx scopes the token source.
func NewClient(ctx context.Context, creds Credentials, baseURL string) *Client {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", creds.TenantID)
	}
	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}
	return NewWithHTTPClient(cc.Client(ctx), baseURL)
}

// NewWithHTTPClient wraps an already authenticated http.Client.
func NewWithHTTPClient(hc *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("msgraph", "request")
	return &Client{http: hc, baseURL: strings.TrimRight(baseURL, "/"), retry: retry}
}

// WithRetry replaces the retry policy.
func (c *Client) WithRetry(cfg resilience.RetryConfig) *Client {
	c.retry = cfg
	return c
}

// URL resolves a path against the base URL. Absolute URLs such as
// @odata.nextLink pass through.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// JSON sends body (if non-nil) as JSON and decodes the response into out (if
// non-nil).
func (c *Client) JSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "msgraph: marshal request")
		}
	}
	data, err := c.Raw(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "msgraph: decode %s %s", method, path)
	}
	return nil
}

// Raw sends payload and returns the response body bytes.
func (c *Client) Raw(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.once(ctx, method, path, payload)
	})
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, eris.Wrap(err, "msgraph: build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "msgraph: %s %s", method, path)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "msgraph: read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "msgraph: %s %s", method, path)
	}

	if len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		te := resilience.NewTransientError(statusErr, resp.StatusCode)
		te.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		return nil, te
	}
	return nil, statusErr
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

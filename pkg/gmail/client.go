// Package gmail provides a client for the Gmail REST API, covering the
// operations outreach needs: sending raw messages and reading threads.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when the referenced message or thread does not
// exist, typically because it was deleted from the mailbox.
var ErrNotFound = eris.New("gmail: not found")

// Client defines the Gmail operations used by the outreach pipeline.
type Client interface {
	// Send delivers a raw RFC 2822 message. A non-empty threadID appends
	// the message to an existing conversation.
	Send(ctx context.Context, raw []byte, threadID string) (*Message, error)
	// GetThread fetches a conversation with per-message metadata.
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	// Profile returns the authenticated mailbox address.
	Profile(ctx context.Context) (*Profile, error)
}

// Message is the Gmail API view of a single message.
type Message struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds,omitempty"`
}

// Thread is a conversation with its messages in chronological order.
type Thread struct {
	ID       string          `json:"id"`
	Messages []ThreadMessage `json:"messages"`
}

// ThreadMessage is one message within a thread, metadata only.
type ThreadMessage struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	InternalDate string   `json:"internalDate"`
	Payload      Payload  `json:"payload"`
}

// Payload carries the message headers.
type Payload struct {
	Headers []Header `json:"headers"`
}

// Header is a single RFC 2822 header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Profile identifies the authenticated mailbox.
type Profile struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int    `json:"messagesTotal"`
}

// Header returns the value of the named header, or "".
func (m *ThreadMessage) Header(name string) string {
	for _, h := range m.Payload.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// IsSent reports whether the mailbox owner sent this message.
func (m *ThreadMessage) IsSent() bool {
	for _, l := range m.LabelIDs {
		if l == "SENT" {
			return true
		}
	}
	return false
}

// Option configures the Gmail client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithUserID sets the mailbox to act on. Defaults to "me".
func WithUserID(userID string) Option {
	return func(c *httpClient) {
		c.userID = userID
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	token   string
	baseURL string
	userID  string
	http    *http.Client
}

// NewClient creates a Gmail client authenticated with an OAuth token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://gmail.googleapis.com/gmail/v1",
		userID:  "me",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// doJSON executes a request with exponential backoff retries on transient
// failures (429, 500, 502, 503). A fresh request is built per attempt so
// POST bodies survive the retry.
func (c *httpClient) doJSON(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, 0, eris.Wrap(err, "gmail: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "gmail: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("gmail: status %d: %s", resp.StatusCode, string(respBody))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return respBody, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

type sendRequest struct {
	Raw      string `json:"raw"`
	ThreadID string `json:"threadId,omitempty"`
}

func (c *httpClient) Send(ctx context.Context, raw []byte, threadID string) (*Message, error) {
	payload, err := json.Marshal(sendRequest{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadID: threadID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gmail: marshal send request")
	}

	url := fmt.Sprintf("%s/users/%s/messages/send", c.baseURL, c.userID)
	body, statusCode, err := c.doJSON(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: send request failed")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("gmail: send unexpected status %d: %s", statusCode, string(body))
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, eris.Wrap(err, "gmail: unmarshal send response")
	}
	return &msg, nil
}

func (c *httpClient) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	url := fmt.Sprintf("%s/users/%s/threads/%s?format=metadata&metadataHeaders=From&metadataHeaders=Message-ID&metadataHeaders=In-Reply-To",
		c.baseURL, c.userID, threadID)

	body, statusCode, err := c.doJSON(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: thread request failed")
	}
	if statusCode == http.StatusNotFound {
		return nil, eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("gmail: thread unexpected status %d: %s", statusCode, string(body))
	}

	var thread Thread
	if err := json.Unmarshal(body, &thread); err != nil {
		return nil, eris.Wrap(err, "gmail: unmarshal thread")
	}
	return &thread, nil
}

func (c *httpClient) Profile(ctx context.Context) (*Profile, error) {
	url := fmt.Sprintf("%s/users/%s/profile", c.baseURL, c.userID)

	body, statusCode, err := c.doJSON(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: profile request failed")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("gmail: profile unexpected status %d: %s", statusCode, string(body))
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, eris.Wrap(err, "gmail: unmarshal profile")
	}
	return &profile, nil
}

package crmsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal CRM HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// UserID is sent as X-User-Id when no token is set; the server must allow it.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. Chat calls wait for the
// model, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

type Token struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type Contact struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Company       string `json:"company,omitempty"`
	Title         string `json:"title,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Notes         string `json:"notes,omitempty"`
	LastContacted string `json:"lastContacted,omitempty"`
}

type Deal struct {
	ID                string  `json:"id,omitempty"`
	Name              string  `json:"name"`
	Company           string  `json:"company,omitempty"`
	Value             float64 `json:"value,omitempty"`
	Stage             string  `json:"stage,omitempty"`
	ExpectedCloseDate string  `json:"expectedCloseDate,omitempty"`
	Probability       float64 `json:"probability,omitempty"`
	Notes             string  `json:"notes,omitempty"`
}

type ChatTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type Draft struct {
	Intent string         `json:"intent"`
	Fields map[string]any `json:"fields"`
	Stage  string         `json:"stage"`
}

// Chat is the conversation state returned by the chat endpoints.
type Chat struct {
	Transcript []ChatTurn `json:"transcript"`
	State      string     `json:"state"`
	Draft      *Draft     `json:"draft,omitempty"`
	Pending    bool       `json:"pending"`
}

type Reply struct {
	Turn    ChatTurn `json:"turn"`
	State   string   `json:"state"`
	Outcome string   `json:"outcome,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
}

type ChatReply struct {
	Reply Reply `json:"reply"`
	Chat
}

// Event represents a record change.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SignInAnonymous requests a token for a new user and keeps it on the client.
func (c *Client) SignInAnonymous(ctx context.Context) (Token, error) {
	var resp Token
	if err := c.do(ctx, http.MethodPost, "v0/auth/anonymous", nil, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	c.UserID = resp.UserID
	return resp, nil
}

// Chat returns the current conversation.
func (c *Client) Chat(ctx context.Context) (Chat, error) {
	var resp Chat
	err := c.do(ctx, http.MethodGet, "v0/chat", nil, &resp)
	return resp, err
}

// Send submits one utterance and waits for the assistant's answer.
func (c *Client) Send(ctx context.Context, text string) (ChatReply, error) {
	var resp ChatReply
	err := c.do(ctx, http.MethodPost, "v0/chat/messages", map[string]any{"text": text}, &resp)
	return resp, err
}

// ResetChat starts the conversation over.
func (c *Client) ResetChat(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "v0/chat", nil, nil)
}

// Contacts lists contacts, filtered by query when non-empty.
func (c *Client) Contacts(ctx context.Context, query string) ([]Contact, error) {
	endpoint := "v0/contacts"
	if query != "" {
		endpoint += "?q=" + url.QueryEscape(query)
	}
	var resp []Contact
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CreateContact(ctx context.Context, contact Contact) (Contact, error) {
	var resp Contact
	err := c.do(ctx, http.MethodPost, "v0/contacts", contact, &resp)
	return resp, err
}

func (c *Client) Deals(ctx context.Context) ([]Deal, error) {
	var resp []Deal
	err := c.do(ctx, http.MethodGet, "v0/deals", nil, &resp)
	return resp, err
}

// MoveDeal moves a deal to another pipeline stage.
func (c *Client) MoveDeal(ctx context.Context, id, stage string) (Deal, error) {
	var resp Deal
	endpoint := fmt.Sprintf("v0/deals/%s/move", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"stage": stage}, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

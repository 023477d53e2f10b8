// Package backend is the HTTP client for the backing store that owns
// conversations, messages and the contact directory.
package backend

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

	"github.com/matheus3301/convsync/internal/auth"
	"github.com/matheus3301/convsync/internal/chat"
	"go.uber.org/zap"
)

// Backend is the set of backing-store accessors the sync core depends on.
// Every call may fail; callers treat failures as transient.
type Backend interface {
	FetchConversations(ctx context.Context) ([]chat.ConversationRecord, error)
	FetchMessages(ctx context.Context, conversationID string) ([]chat.ConfirmedMessage, error)
	FetchContacts(ctx context.Context) ([]chat.ContactEntry, error)
	CreateConversation(ctx context.Context, participantID string) (chat.ConversationRecord, error)
	MarkAsRead(ctx context.Context, conversationID string) error
	MaintenanceRequestIDs(ctx context.Context) ([]string, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks JSON over HTTP to the backing store.
type Client struct {
	baseURL    string
	creds      auth.Source
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a Client rooted at baseURL. A nil httpClient uses a
// client with a 30s timeout.
func NewClient(baseURL string, creds auth.Source, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		log:        log,
		httpClient: httpClient,
	}
}

type messageWire struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	CreatedAt      string `json:"createdAt"`
}

// FetchConversations implements Backend.
func (c *Client) FetchConversations(ctx context.Context) ([]chat.ConversationRecord, error) {
	var out []chat.ConversationRecord
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchMessages implements Backend. Timestamps without a zone are read as
// UTC. A message whose timestamp cannot be read at all is logged and kept
// with a zero CreatedAt, so it sorts first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]chat.ConfirmedMessage, error) {
	var wire []messageWire
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]chat.ConfirmedMessage, 0, len(wire))
	for _, w := range wire {
		created, ok := chat.ParseTimestamp(w.CreatedAt, time.UTC)
		if !ok {
			c.log.Warn("message timestamp unreadable",
				zap.String("conversation", conversationID),
				zap.String("message", w.ID),
				zap.String("created_at", w.CreatedAt),
			)
		}
		convID := w.ConversationID
		if convID == "" {
			convID = conversationID
		}
		out = append(out, chat.ConfirmedMessage{
			ID:             w.ID,
			ConversationID: convID,
			SenderID:       w.SenderID,
			Content:        w.Content,
			CreatedAt:      created,
		})
	}
	return out, nil
}

// FetchContacts implements Backend.
func (c *Client) FetchContacts(ctx context.Context) ([]chat.ContactEntry, error) {
	var out []chat.ContactEntry
	if err := c.do(ctx, http.MethodGet, "/api/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation implements Backend.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (chat.ConversationRecord, error) {
	var out chat.ConversationRecord
	body := map[string]string{"participantId": participantID}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &out); err != nil {
		return chat.ConversationRecord{}, err
	}
	return out, nil
}

// MarkAsRead implements Backend.
func (c *Client) MarkAsRead(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

// MaintenanceRequestIDs implements Backend.
func (c *Client) MaintenanceRequestIDs(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/api/maintenance-requests/ids", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		cred, err := c.creds.Credential(ctx)
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
		if cred.Token != "" {
			req.Header.Set("Authorization", "Bearer "+cred.Token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

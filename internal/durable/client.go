// Package durable is the request/response channel to the chat backend's REST
// API. It is the authoritative store for history and the second write path
// for sends.
package durable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/paperchat/internal/chat"
	"go.uber.org/zap"
)

const maxBody = 8 << 20

// Error describes a failed durable call. Status is 0 when no response was
// received.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a durable 404.
func IsNotFound(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Status == http.StatusNotFound
}

type historyResponse struct {
	Messages []chat.Message `json:"messages"`
}

type sendResponse struct {
	Success bool         `json:"success"`
	Data    chat.Message `json:"data"`
}

type unreadResponse struct {
	UnreadCount int `json:"unreadCount"`
}

type usersResponse struct {
	Users []chat.User `json:"users"`
}

type conversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
}

type readRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// Client talks to the REST API rooted at base, e.g. http://host/api.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// New creates a client. A nil httpClient gets a 15s timeout client.
func New(base string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient, logger: logger}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// FetchHistory returns the messages of a conversation, oldest first. A
// conversation the server does not know yet has an empty history.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var resp historyResponse
	err := c.do(ctx, "fetch history", http.MethodGet, "/chat/history/"+url.PathEscape(conversationID), nil, &resp)
	if IsNotFound(err) {
		c.logger.Debug("no history yet", zap.String("conversation_id", conversationID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send persists one message and returns the server's copy.
func (c *Client) Send(ctx context.Context, req chat.SendRequest) (chat.Message, error) {
	var resp sendResponse
	if err := c.do(ctx, "send", http.MethodPost, "/chat/send", req, &resp); err != nil {
		return chat.Message{}, err
	}
	if resp.Data.ID == "" {
		return chat.Message{}, &Error{Op: "send", Err: errors.New("response carries no message id")}
	}
	return resp.Data, nil
}

// MarkRead marks messages of a conversation read.
func (c *Client) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	return c.do(ctx, "mark read", http.MethodPut, "/chat/read",
		readRequest{ConversationID: conversationID, MessageIDs: messageIDs}, nil)
}

// DeleteMessage deletes one message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, "delete message", http.MethodDelete, "/chat/message/"+url.PathEscape(id), nil, nil)
}

// Clear deletes every message of a conversation.
func (c *Client) Clear(ctx context.Context, conversationID string) error {
	return c.do(ctx, "clear conversation", http.MethodDelete, "/chat/clear/"+url.PathEscape(conversationID), nil, nil)
}

// UnreadCount returns the server-side unread counter of the session user.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp unreadResponse
	if err := c.do(ctx, "unread count", http.MethodGet, "/chat/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

// SearchUsers looks up users by name.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]chat.User, error) {
	var resp usersResponse
	path := "/chat/search/users?query=" + url.QueryEscape(query)
	if err := c.do(ctx, "search users", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Users returns the user directory conversations are started from.
func (c *Client) Users(ctx context.Context) ([]chat.User, error) {
	var resp usersResponse
	if err := c.do(ctx, "list users", http.MethodGet, "/chat/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Conversations returns the session user's conversations, most recently
// active first.
func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	var resp conversationsResponse
	if err := c.do(ctx, "list conversations", http.MethodGet, "/chat/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: op, Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts {"message": "..."} from an error body, falling back to
// the trimmed body itself.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

package api

import (
	"encoding/json"

	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/status"
)

// Empty is used where a call takes or returns nothing.
type Empty struct{}

type StatusRequest struct{}

type StatusResponse struct {
	Session        string       `json:"session"`
	State          status.State `json:"state"`
	User           chat.User    `json:"user"`
	ConversationID string       `json:"conversationId,omitempty"`
	Unread         int          `json:"unread"`
	UptimeMs       int64        `json:"uptimeMs"`
}

type LoginRequest struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Token    string `json:"token"`
}

type OpenRequest struct {
	PeerID         string `json:"peerId"`
	PeerName       string `json:"peerName"`
	ConversationID string `json:"conversationId,omitempty"`
}

type OpenResponse struct {
	ConversationID string `json:"conversationId"`
}

type SendRequest struct {
	Text      string `json:"text"`
	File      bool   `json:"file,omitempty"`
	ReplyToID string `json:"replyToId,omitempty"`
}

type SendResponse struct {
	Message chat.Message `json:"message"`
}

// MarkReadRequest marks messages of the open conversation read. No ids means
// every unread message from the peer.
type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds,omitempty"`
}

type MarkReadResponse struct {
	Marked int `json:"marked"`
}

type MessageRequest struct {
	MessageID string `json:"messageId"`
}

// DismissRequest dismisses by message id, or by queue index when the id is
// empty.
type DismissRequest struct {
	MessageID string `json:"messageId,omitempty"`
	Index     int    `json:"index"`
}

type SnapshotResponse struct {
	Snapshot chat.Snapshot `json:"snapshot"`
}

type RecentRequest struct {
	Limit int `json:"limit"`
}

type RecentPeer struct {
	User           chat.User `json:"user"`
	ConversationID string    `json:"conversationId"`
	LastOpenedAtMs int64     `json:"lastOpenedAtMs"`
}

type RecentResponse struct {
	Peers []RecentPeer `json:"peers"`
}

type SearchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId,omitempty"`
	Limit          int    `json:"limit"`
}

type MessagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

type UsersResponse struct {
	Users []chat.User `json:"users"`
}

// ConversationsRequest lists conversations. Refresh reloads them from the
// server instead of returning the list loaded at login.
type ConversationsRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

type ConversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
}

// WatchRequest selects bus events by kind prefix; empty means all.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// Event is one bus event streamed to a watcher.
type Event struct {
	ID               string          `json:"id"`
	Session          string          `json:"session"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

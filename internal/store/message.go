package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/paperchat/internal/chat"
)

const messageColumns = `id, client_id, conversation_id, sender_id, sender_name, recipient_id,
	recipient_name, body, kind, is_read, reply_to, created_at`

// SaveMessages caches confirmed messages (idempotent on id). Optimistic
// copies are skipped; they live in the outbox until confirmed.
func (db *DB) SaveMessages(msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (id, client_id, conversation_id, sender_id, sender_name, recipient_id,
			recipient_name, body, kind, is_read, reply_to, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = CASE WHEN excluded.client_id != '' THEN excluded.client_id ELSE messages.client_id END,
			body = excluded.body,
			is_read = MAX(messages.is_read, excluded.is_read),
			cached_at = excluded.cached_at`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if m.ID == "" || m.IsPending() || m.ConversationID == "" {
			continue
		}
		reply, err := encodeReply(m.ReplyTo)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(m.ID, m.ClientID, m.ConversationID, m.SenderID, m.SenderName, m.RecipientID,
			m.RecipientName, m.Body, m.Kind, m.IsRead, reply, m.CreatedAt.UnixMilli(), now); err != nil {
			return fmt.Errorf("cache message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// CachedHistory returns the newest limit cached messages of a conversation,
// oldest first.
func (db *DB) CachedHistory(conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	msgs, err := db.queryMessages(`
		SELECT `+messageColumns+` FROM (
			SELECT rowid AS seq, * FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("cached history %s: %w", conversationID, err)
	}
	return msgs, nil
}

// DeleteCachedMessage evicts one message.
func (db *DB) DeleteCachedMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// ClearCachedConversation evicts every message of a conversation.
func (db *DB) ClearCachedConversation(conversationID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// SearchMessages finds cached messages whose body contains query, newest
// first. An empty conversationID searches all conversations.
func (db *DB) SearchMessages(query, conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE body LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)
	return db.queryMessages(q, args...)
}

func (db *DB) queryMessages(query string, args ...any) ([]chat.Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m       chat.Message
			reply   string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ClientID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.RecipientID,
			&m.RecipientName, &m.Body, &m.Kind, &m.IsRead, &reply, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created)
		m.Status = chat.StatusSent
		if m.ReplyTo, err = decodeReply(reply); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func encodeReply(ref *chat.ReplyRef) (string, error) {
	if ref == nil {
		return "", nil
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return "", fmt.Errorf("encode reply: %w", err)
	}
	return string(data), nil
}

func decodeReply(s string) (*chat.ReplyRef, error) {
	if s == "" {
		return nil, nil
	}
	var ref chat.ReplyRef
	if err := json.Unmarshal([]byte(s), &ref); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &ref, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

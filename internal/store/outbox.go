package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/paperchat/internal/chat"
)

const outboxColumns = `id, client_id, conversation_id, sender_id, sender_name, recipient_id,
	recipient_name, body, kind, reply_to, status, attempts, error_message, server_msg_id, created_at`

// QueueOutbox adds the durable write of an optimistic message. Queuing the
// same client id twice is a no-op.
func (db *DB) QueueOutbox(m chat.Message) error {
	reply, err := encodeReply(m.ReplyTo)
	if err != nil {
		return err
	}
	created := m.CreatedAt.UnixMilli()
	if m.CreatedAt.IsZero() {
		created = time.Now().UnixMilli()
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO outbox (client_id, conversation_id, sender_id, sender_name, recipient_id,
			recipient_name, body, kind, reply_to, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(client_id) DO NOTHING`,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.RecipientID,
		m.RecipientName, m.Body, m.Kind, reply, created, now)
	return err
}

// MarkOutboxSending claims a queued entry for one delivery attempt.
func (db *DB) MarkOutboxSending(clientID string) error {
	now := time.Now().UnixMilli()
	return expectRow(db.Exec(`
		UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ?
		WHERE client_id = ? AND status = 'queued'`, now, clientID))
}

// MarkOutboxSent records the server id of a delivered entry.
func (db *DB) MarkOutboxSent(clientID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, error_message = '', updated_at = ? WHERE client_id = ?`,
		serverMsgID, now, clientID)
	return err
}

// MarkOutboxFailed records a failed delivery attempt.
func (db *DB) MarkOutboxFailed(clientID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_id = ?`,
		errMsg, now, clientID)
	return err
}

// RequeueOutbox puts a failed entry back in the queue.
func (db *DB) RequeueOutbox(clientID string) error {
	now := time.Now().UnixMilli()
	err := expectRow(db.Exec(`
		UPDATE outbox SET status = 'queued', error_message = '', updated_at = ?
		WHERE client_id = ? AND status IN ('failed', 'queued')`, now, clientID))
	if err != nil {
		return fmt.Errorf("requeue %s: %w", clientID, err)
	}
	return nil
}

// DiscardOutbox drops an entry that has not been delivered.
func (db *DB) DiscardOutbox(clientID string) error {
	err := expectRow(db.Exec(`DELETE FROM outbox WHERE client_id = ? AND status != 'sent'`, clientID))
	if err != nil {
		return fmt.Errorf("discard %s: %w", clientID, err)
	}
	return nil
}

// ResetSending returns entries left in 'sending' by a crash to the queue.
func (db *DB) ResetSending() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutbox returns queued entries, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.queryOutbox(`SELECT `+outboxColumns+` FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
}

// GetOutbox returns the entry for clientID, or nil.
func (db *DB) GetOutbox(clientID string) (*OutboxEntry, error) {
	entries, err := db.queryOutbox(`SELECT `+outboxColumns+` FROM outbox WHERE client_id = ?`, clientID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// UnsentOutbox returns the undelivered sends of a conversation as optimistic
// messages: failed entries carry StatusFailed, the rest StatusPending.
func (db *DB) UnsentOutbox(conversationID string) ([]chat.Message, error) {
	entries, err := db.queryOutbox(`SELECT `+outboxColumns+`
		FROM outbox WHERE conversation_id = ? AND status != 'sent'
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(entries))
	for _, e := range entries {
		m := e.Message
		m.Status = chat.StatusPending
		if e.Status == OutboxFailed {
			m.Status = chat.StatusFailed
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// PruneOutbox deletes delivered entries last updated before cutoff.
func (db *DB) PruneOutbox(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE status = 'sent' AND updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryOutbox(query string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			reply   string
			created int64
		)
		m := &e.Message
		if err := rows.Scan(&e.ID, &m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.RecipientID,
			&m.RecipientName, &m.Body, &m.Kind, &reply, &e.Status, &e.Attempts, &e.ErrorMessage,
			&e.ServerMsgID, &created); err != nil {
			return nil, err
		}
		m.ClientID = m.ID
		m.CreatedAt = time.UnixMilli(created)
		if m.ReplyTo, err = decodeReply(reply); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

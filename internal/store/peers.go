package store

import (
	"time"

	"github.com/matheus3301/paperchat/internal/chat"
)

// RememberPeer records that the conversation with u was opened.
func (db *DB) RememberPeer(u chat.User, conversationID string) error {
	_, err := db.Exec(`
		INSERT INTO peers (user_id, name, conversation_id, last_opened_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE peers.name END,
			conversation_id = excluded.conversation_id,
			last_opened_at = excluded.last_opened_at`,
		u.ID, u.Name, conversationID, time.Now().UnixMilli())
	return err
}

// RecentPeers returns peers by most recently opened conversation.
func (db *DB) RecentPeers(limit int) ([]Peer, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT user_id, name, conversation_id, last_opened_at
		FROM peers ORDER BY last_opened_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var peers []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.User.ID, &p.User.Name, &p.ConversationID, &p.LastOpenedAt); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

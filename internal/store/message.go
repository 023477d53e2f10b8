package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/convsync/internal/chat"
)

// ReplaceMessages swaps the cached history of one conversation.
func (db *DB) ReplaceMessages(conversationID string, msgs []chat.ConfirmedMessage) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				conversation_id = excluded.conversation_id,
				sender_id = excluded.sender_id,
				content = excluded.content,
				created_at = excluded.created_at`,
			m.ID, conversationID, m.SenderID, m.Content, m.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns the cached history of a conversation, oldest first.
func (db *DB) ListMessages(conversationID string) ([]chat.ConfirmedMessage, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.ConfirmedMessage
	for rows.Next() {
		var m chat.ConfirmedMessage
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

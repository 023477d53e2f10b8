package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/convsync/internal/chat"
)

// ReplaceConversations swaps the cached conversation list for records,
// preserving the order the backing store returned them in.
func (db *DB) ReplaceConversations(records []chat.ConversationRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	now := time.Now().UnixMilli()
	for i, r := range records {
		a, b := r.Participants[0], r.Participants[1]
		var has bool
		var last chat.LastMessage
		if r.LastMessage != nil {
			has, last = true, *r.LastMessage
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, position,
				a_user_id, a_display_name, a_email,
				b_user_id, b_display_name, b_email,
				has_last_message, last_content, last_timestamp, last_sender_id,
				unread_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			r.ID, i,
			a.UserID, a.DisplayName, a.Email,
			b.UserID, b.DisplayName, b.Email,
			has, last.Content, last.Timestamp, last.SenderID,
			r.UnreadCount, now); err != nil {
			return fmt.Errorf("insert conversation %q: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ListConversations returns cached conversations in backing-store order.
func (db *DB) ListConversations() ([]chat.ConversationRecord, error) {
	rows, err := db.Query(`
		SELECT id,
			a_user_id, a_display_name, a_email,
			b_user_id, b_display_name, b_email,
			has_last_message, last_content, last_timestamp, last_sender_id,
			unread_count
		FROM conversations ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []chat.ConversationRecord
	for rows.Next() {
		var r chat.ConversationRecord
		var has bool
		var last chat.LastMessage
		a, b := &r.Participants[0], &r.Participants[1]
		if err := rows.Scan(&r.ID,
			&a.UserID, &a.DisplayName, &a.Email,
			&b.UserID, &b.DisplayName, &b.Email,
			&has, &last.Content, &last.Timestamp, &last.SenderID,
			&r.UnreadCount); err != nil {
			return nil, err
		}
		if has {
			r.LastMessage = &last
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ZeroUnread sets the cached unread count of one conversation to zero.
func (db *DB) ZeroUnread(conversationID string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), conversationID)
	return err
}

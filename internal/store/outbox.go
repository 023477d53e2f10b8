package store

import (
	"time"
)

// QueueOutbox appends a message to the persisted outbox.
func (db *DB) QueueOutbox(clientID, conversationID, content string, queuedAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO outbox (client_id, conversation_id, content, status, queued_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientID, conversationID, content, queuedAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

// DeleteOutbox removes a delivered entry.
func (db *DB) DeleteOutbox(clientID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE client_id = ?`, clientID)
	return err
}

// RecordOutboxAttempt stores the attempt count and last error of an entry.
func (db *DB) RecordOutboxAttempt(clientID string, attempts int, errMsg string) error {
	_, err := db.Exec(`UPDATE outbox SET attempts = ?, error_message = ?, updated_at = ? WHERE client_id = ?`,
		attempts, errMsg, time.Now().UnixMilli(), clientID)
	return err
}

// MarkOutboxFailed moves an entry to the terminal 'failed' status.
func (db *DB) MarkOutboxFailed(clientID, errMsg string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_id = ?`,
		errMsg, time.Now().UnixMilli(), clientID)
	return err
}

// RequeueOutbox resets a failed entry back to 'queued' with a fresh attempt budget.
func (db *DB) RequeueOutbox(clientID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', attempts = 0, error_message = '', updated_at = ? WHERE client_id = ?`,
		time.Now().UnixMilli(), clientID)
	return err
}

// ClearOutbox drops every entry.
func (db *DB) ClearOutbox() error {
	_, err := db.Exec(`DELETE FROM outbox`)
	return err
}

// ListOutbox returns every persisted entry in enqueue order.
func (db *DB) ListOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT seq, client_id, conversation_id, content, status, attempts, error_message, queued_at
		FROM outbox ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var queued int64
		if err := rows.Scan(&e.Seq, &e.ClientID, &e.ConversationID, &e.Content, &e.Status, &e.Attempts, &e.ErrorMessage, &queued); err != nil {
			return nil, err
		}
		e.QueuedAt = time.UnixMilli(queued)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

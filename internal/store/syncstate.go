package store

import (
	"database/sql"
	"strconv"
	"time"
)

// Sync state keys used as freshness checkpoints.
const (
	KeyConversations = "conversations"
	KeyContacts      = "contacts"
	keyMessagesPref  = "messages:"
)

// MessagesKey returns the checkpoint key for one conversation's history.
func MessagesKey(conversationID string) string {
	return keyMessagesPref + conversationID
}

// MarkSynced records that key was refreshed from the backing store at t.
func (db *DB) MarkSynced(key string, t time.Time) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, strconv.FormatInt(t.UnixMilli(), 10), time.Now().UnixMilli())
	return err
}

// SyncedAt returns when key was last refreshed. ok is false when the key
// was never synced or has been invalidated.
func (db *DB) SyncedAt(key string) (t time.Time, ok bool, err error) {
	var value string
	err = db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// ClearSynced invalidates a checkpoint so the next read goes to the backing store.
func (db *DB) ClearSynced(key string) error {
	_, err := db.Exec(`DELETE FROM sync_state WHERE key = ?`, key)
	return err
}

package store

import (
	"fmt"

	"github.com/matheus3301/convsync/internal/chat"
)

// ReplaceContacts swaps the cached contact directory.
func (db *DB) ReplaceContacts(entries []chat.ContactEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	for i, c := range entries {
		kind := c.Kind
		if kind == "" {
			kind = chat.KindOther
		}
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, position, user_id, email, kind, display_name, avatar_url)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			c.ID, i, c.UserID, c.Email, string(kind), c.DisplayName, c.AvatarURL); err != nil {
			return fmt.Errorf("insert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListContacts returns the cached contact directory.
func (db *DB) ListContacts() ([]chat.ContactEntry, error) {
	rows, err := db.Query(`
		SELECT id, user_id, email, kind, display_name, avatar_url
		FROM contacts ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []chat.ContactEntry
	for rows.Next() {
		var c chat.ContactEntry
		var kind string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Email, &kind, &c.DisplayName, &c.AvatarURL); err != nil {
			return nil, err
		}
		c.Kind = chat.ContactKind(kind)
		entries = append(entries, c)
	}
	return entries, rows.Err()
}

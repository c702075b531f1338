package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact. Conflicts resolve
// last-write-wins by the event timestamp.
func (db *DB) UpsertContact(c *Contact, eventTS int64) error {
	if eventTS <= 0 {
		eventTS = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO contacts (id, name, username, phone, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			username = excluded.username,
			phone = excluded.phone,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= contacts.updated_at`,
		c.ID, c.Name, c.Username, c.Phone, eventTS)
	return err
}

// BulkUpsertContacts applies multiple contacts in a single transaction.
func (db *DB) BulkUpsertContacts(contacts []Contact, eventTS int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if eventTS <= 0 {
		eventTS = time.Now().UnixMilli()
	}
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, name, username, phone, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				username = excluded.username,
				phone = excluded.phone,
				updated_at = excluded.updated_at
			WHERE excluded.updated_at >= contacts.updated_at`,
			c.ID, c.Name, c.Username, c.Phone, eventTS); err != nil {
			return fmt.Errorf("upsert contact %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by id, or nil if unknown.
func (db *DB) GetContact(id int64) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, name, username, phone FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Username, &c.Phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SearchContacts matches contacts by name, username or phone substring.
func (db *DB) SearchContacts(query string, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	pat := "%" + query + "%"
	rows, err := db.Query(`
		SELECT id, name, username, phone
		FROM contacts
		WHERE name LIKE ? OR username LIKE ? OR phone LIKE ?
		ORDER BY name
		LIMIT ?`, pat, pat, pat, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Username, &c.Phone); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// FindContactByUsername returns a contact by exact username, or nil.
func (db *DB) FindContactByUsername(username string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, name, username, phone FROM contacts WHERE username = ?`, username).
		Scan(&c.ID, &c.Name, &c.Username, &c.Phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AddChatMember records that a contact participates in a chat. Idempotent.
func (db *DB) AddChatMember(chatID, contactID int64) error {
	_, err := db.Exec(`
		INSERT INTO chat_members (chat_id, contact_id) VALUES (?, ?)
		ON CONFLICT(chat_id, contact_id) DO NOTHING`,
		chatID, contactID)
	return err
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

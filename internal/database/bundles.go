package database

import (
	"database/sql"
	"errors"
)

// InsertBundle queues an outreach record for a contact.
func (db *DB) InsertBundle(contactID int64, batchDate, subject string) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO outreach_bundles (contact_id, batch_date, email_subject) VALUES (?, ?, ?)`,
		contactID, batchDate, subject,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetBundle returns a bundle by ID, or nil if it does not exist.
func (db *DB) GetBundle(id int64) (*Bundle, error) {
	row := db.conn.QueryRow(
		`SELECT id, contact_id, batch_date, email_subject, status, sent_at, open_count, COALESCE(created_at, '')
		FROM outreach_bundles WHERE id = ?`, id,
	)
	var b Bundle
	if err := row.Scan(&b.ID, &b.ContactID, &b.BatchDate, &b.EmailSubject, &b.Status,
		&b.SentAt, &b.OpenCount, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// LatestBundleID returns the newest bundle for a contact, or 0.
func (db *DB) LatestBundleID(contactID int64) (int64, error) {
	var id int64
	err := db.conn.QueryRow(
		"SELECT id FROM outreach_bundles WHERE contact_id = ? ORDER BY id DESC LIMIT 1", contactID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// MarkBundleSent records a successful send at sentAt.
func (db *DB) MarkBundleSent(id int64, sentAt string) error {
	_, err := db.conn.Exec(
		"UPDATE outreach_bundles SET status = 'sent', sent_at = ? WHERE id = ?", sentAt, id,
	)
	return err
}

// RecordBundleOpen increments the open counter and reports whether this was
// the first open.
func (db *DB) RecordBundleOpen(id int64) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow("SELECT open_count FROM outreach_bundles WHERE id = ?", id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	if _, err := tx.Exec("UPDATE outreach_bundles SET open_count = open_count + 1 WHERE id = ?", id); err != nil {
		return false, err
	}
	return count == 0, tx.Commit()
}

// SetBundleStatus moves a bundle to bounced or replied.
func (db *DB) SetBundleStatus(id int64, status string) error {
	_, err := db.conn.Exec("UPDATE outreach_bundles SET status = ? WHERE id = ?", status, id)
	return err
}

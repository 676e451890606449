package database

// InsertTouch appends an interaction row. Touches are never updated or deleted.
func (db *DB) InsertTouch(t *Touch) (int64, error) {
	return insertTouch(db.conn, t)
}

// RecordTouch appends a touch and stamps the contact's last_touch_date in
// one transaction.
func (db *DB) RecordTouch(t *Touch) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertTouch(tx, t)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(
		"UPDATE contacts SET last_touch_date = ?, updated_at = datetime('now') WHERE id = ?",
		t.TouchDate, t.ContactID,
	); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// ListTouches returns a contact's touches, oldest first.
func (db *DB) ListTouches(contactID int64) ([]Touch, error) {
	rows, err := db.conn.Query(
		`SELECT id, contact_id, channel, direction, subject, notes, touch_date, COALESCE(created_at, '')
		FROM touch_log WHERE contact_id = ? ORDER BY id ASC`, contactID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var touches []Touch
	for rows.Next() {
		var t Touch
		if err := rows.Scan(&t.ID, &t.ContactID, &t.Channel, &t.Direction, &t.Subject,
			&t.Notes, &t.TouchDate, &t.CreatedAt); err != nil {
			return nil, err
		}
		touches = append(touches, t)
	}
	return touches, rows.Err()
}

// CountTouches returns the enforcement counters for one contact.
func (db *DB) CountTouches(contactID int64) (*TouchCounts, error) {
	var tc TouchCounts
	err := db.conn.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN channel = 'email' AND direction = 'outbound' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'inbound' THEN 1 ELSE 0 END), 0)
		FROM touch_log WHERE contact_id = ?`, contactID,
	).Scan(&tc.OutboundEmail, &tc.Inbound)
	if err != nil {
		return nil, err
	}
	return &tc, nil
}

func insertTouch(q queryer, t *Touch) (int64, error) {
	result, err := q.Exec(
		`INSERT INTO touch_log (contact_id, channel, direction, subject, notes, touch_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ContactID, t.Channel, t.Direction, t.Subject, t.Notes, t.TouchDate,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

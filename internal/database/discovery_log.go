package database

// LogDiscovery appends one discovery step result.
func (db *DB) LogDiscovery(contactID int64, step, result, detail string) error {
	_, err := db.conn.Exec(
		"INSERT INTO email_discovery_log (contact_id, step, result, detail) VALUES (?, ?, ?, ?)",
		contactID, step, result, detail,
	)
	return err
}

// GetDiscoveryLog returns a contact's discovery steps in order.
func (db *DB) GetDiscoveryLog(contactID int64) ([]DiscoveryLogEntry, error) {
	rows, err := db.conn.Query(
		`SELECT id, contact_id, step, result, detail, COALESCE(created_at, '')
		FROM email_discovery_log WHERE contact_id = ? ORDER BY id ASC`, contactID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DiscoveryLogEntry
	for rows.Next() {
		var e DiscoveryLogEntry
		if err := rows.Scan(&e.ID, &e.ContactID, &e.Step, &e.Result, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

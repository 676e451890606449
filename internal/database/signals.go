package database

// InsertSignal stores a news signal. Returns 0 if the URL is already known.
func (db *DB) InsertSignal(s *Signal) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO news_signals
		(source_name, source_url, headline, snippet, signal_type, contact_id, published_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.SourceName, s.SourceURL, s.Headline, s.Snippet, s.SignalType, s.ContactID, s.PublishedDate,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// SignalExists reports whether a URL was already stored.
func (db *DB) SignalExists(sourceURL string) (bool, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM news_signals WHERE source_url = ?", sourceURL).Scan(&n)
	return n > 0, err
}

// ListSignalsForContact returns a contact's signals, newest first.
func (db *DB) ListSignalsForContact(contactID int64) ([]Signal, error) {
	rows, err := db.conn.Query(
		`SELECT id, source_name, source_url, headline, snippet, signal_type, contact_id, status,
			published_date, COALESCE(created_at, '')
		FROM news_signals WHERE contact_id = ? ORDER BY id DESC`, contactID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []Signal
	for rows.Next() {
		var s Signal
		if err := rows.Scan(&s.ID, &s.SourceName, &s.SourceURL, &s.Headline, &s.Snippet,
			&s.SignalType, &s.ContactID, &s.Status, &s.PublishedDate, &s.CreatedAt); err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// DismissSignal hides a signal from the scorer.
func (db *DB) DismissSignal(id int64) error {
	_, err := db.conn.Exec("UPDATE news_signals SET status = 'dismissed' WHERE id = ?", id)
	return err
}

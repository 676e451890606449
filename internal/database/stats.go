package database

// GetBoardStats returns the account lifecycle aggregates used by reports.
func (db *DB) GetBoardStats(today string) (*BoardStats, error) {
	s := &BoardStats{
		ByStatus:      make(map[string]int),
		AvgConfidence: make(map[string]float64),
		ByEmailStatus: make(map[string]int),
	}

	rows, err := db.conn.Query(
		`SELECT account_status, COUNT(*), AVG(confidence_score)
		FROM contacts GROUP BY account_status`,
	)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		var avg float64
		if err := rows.Scan(&status, &n, &avg); err != nil {
			rows.Close()
			return nil, err
		}
		s.ByStatus[status] = n
		s.AvgConfidence[status] = avg
		s.Total += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = db.conn.Query("SELECT email_status, COUNT(*) FROM contacts GROUP BY email_status")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		s.ByEmailStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	queries := []struct {
		sql  string
		args []any
		dest *int
	}{
		{"SELECT COUNT(*) FROM contacts WHERE account_status != 'dnc' AND confidence_score >= 70", nil, &s.HighConfidence},
		{"SELECT COUNT(*) FROM contacts WHERE account_status != 'dnc' AND confidence_score >= 40 AND confidence_score < 70", nil, &s.MediumConfidence},
		{"SELECT COUNT(*) FROM contacts WHERE account_status != 'dnc' AND confidence_score < 40", nil, &s.LowConfidence},
		{"SELECT COALESCE(SUM(count), 0) FROM probe_counters WHERE scope = ? AND bucket = ?", []any{GlobalProbeScope, today}, &s.ProbesToday},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql, q.args...).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

package database

import (
	"database/sql"
	"errors"
)

// GlobalProbeScope is the counter scope for the daily probe budget.
const GlobalProbeScope = "global"

// DomainProbeScope returns the counter scope for one mail domain.
func DomainProbeScope(domain string) string {
	return "domain:" + domain
}

// AcquireProbe atomically checks the daily and per-domain hourly caps and,
// when neither would be exceeded, consumes one unit of each. It returns
// false without writing when a cap is reached.
func (db *DB) AcquireProbe(day, hour, domain string, dailyCap, hourlyCap int) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	global, err := counterValue(tx, GlobalProbeScope, day)
	if err != nil {
		return false, err
	}
	if global+1 > dailyCap {
		return false, nil
	}

	scope := DomainProbeScope(domain)
	perDomain, err := counterValue(tx, scope, hour)
	if err != nil {
		return false, err
	}
	if perDomain+1 > hourlyCap {
		return false, nil
	}

	for _, k := range [][2]string{{GlobalProbeScope, day}, {scope, hour}} {
		if _, err := tx.Exec(
			`INSERT INTO probe_counters (scope, bucket, count) VALUES (?, ?, 1)
			ON CONFLICT(scope, bucket) DO UPDATE SET count = count + 1`,
			k[0], k[1],
		); err != nil {
			return false, err
		}
	}
	return true, tx.Commit()
}

// ProbeCount returns the counter for a scope and bucket.
func (db *DB) ProbeCount(scope, bucket string) (int, error) {
	return counterValue(db.conn, scope, bucket)
}

// PruneProbeCounters drops buckets that sort before the given bucket.
// Day buckets (YYYY-MM-DD) and hour buckets (YYYY-MM-DDTHH) share a prefix,
// so passing yesterday's date clears both.
func (db *DB) PruneProbeCounters(before string) (int64, error) {
	result, err := db.conn.Exec("DELETE FROM probe_counters WHERE bucket < ?", before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func counterValue(q queryer, scope, bucket string) (int, error) {
	var n int
	err := q.QueryRow("SELECT count FROM probe_counters WHERE scope = ? AND bucket = ?", scope, bucket).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

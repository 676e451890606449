package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "contacts and touch log",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS contacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    company_name TEXT NOT NULL DEFAULT '',
    contact_name TEXT NOT NULL DEFAULT '',
    title_role TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    website TEXT NOT NULL DEFAULT '',
    domain TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    discovered_email TEXT NOT NULL DEFAULT '',
    email_status TEXT NOT NULL DEFAULT 'pending',
    tier TEXT NOT NULL DEFAULT 'D',
    priority_score INTEGER NOT NULL DEFAULT 50,
    confidence_score INTEGER NOT NULL DEFAULT 0,
    account_status TEXT NOT NULL DEFAULT 'cold',
    next_action TEXT NOT NULL DEFAULT '',
    next_action_date TEXT NOT NULL DEFAULT '',
    last_touch_date TEXT NOT NULL DEFAULT '',
    bounce_count INTEGER NOT NULL DEFAULT 0,
    bounced_emails TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    decision_maker_found INTEGER NOT NULL DEFAULT 0,
    source TEXT NOT NULL DEFAULT '',
    outreach_status TEXT NOT NULL DEFAULT 'pending',
    linkedin_url TEXT NOT NULL DEFAULT '',
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS touch_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    contact_id INTEGER NOT NULL REFERENCES contacts(id),
    channel TEXT NOT NULL,
    direction TEXT NOT NULL CHECK(direction IN ('outbound', 'inbound')),
    subject TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    touch_date TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS outreach_bundles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    contact_id INTEGER NOT NULL REFERENCES contacts(id),
    batch_date TEXT NOT NULL,
    email_subject TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'queued',
    sent_at TEXT NOT NULL DEFAULT '',
    open_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS news_signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_name TEXT NOT NULL DEFAULT '',
    source_url TEXT UNIQUE NOT NULL,
    headline TEXT NOT NULL,
    snippet TEXT NOT NULL DEFAULT '',
    signal_type TEXT NOT NULL DEFAULT 'general',
    contact_id INTEGER REFERENCES contacts(id),
    status TEXT NOT NULL DEFAULT 'new',
    published_date TEXT NOT NULL DEFAULT '',
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_touch_log_contact ON touch_log(contact_id);
CREATE INDEX IF NOT EXISTS idx_bundles_contact ON outreach_bundles(contact_id);
CREATE INDEX IF NOT EXISTS idx_signals_contact ON news_signals(contact_id);
`)
			if err != nil {
				return err
			}
			if err := addMissingColumns(tx, "contacts", contactColumnDefaults); err != nil {
				return err
			}
			_, err = tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_contacts_account_status ON contacts(account_status);
CREATE INDEX IF NOT EXISTS idx_contacts_email_status ON contacts(email_status);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "discovery log and probe counters",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS email_discovery_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    contact_id INTEGER NOT NULL REFERENCES contacts(id),
    step TEXT NOT NULL,
    result TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS probe_counters (
    scope TEXT NOT NULL,
    bucket TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (scope, bucket)
);

CREATE INDEX IF NOT EXISTS idx_discovery_log_contact ON email_discovery_log(contact_id);
`)
			return err
		},
	},
}

type columnDef struct {
	name string
	ddl  string
}

// contactColumnDefaults lists the column definitions a legacy contacts table
// may be missing. ALTER TABLE cannot add non-constant defaults, so the
// timestamp columns fall back to empty text.
var contactColumnDefaults = []columnDef{
	{"company_name", "TEXT NOT NULL DEFAULT ''"},
	{"contact_name", "TEXT NOT NULL DEFAULT ''"},
	{"title_role", "TEXT NOT NULL DEFAULT ''"},
	{"city", "TEXT NOT NULL DEFAULT ''"},
	{"website", "TEXT NOT NULL DEFAULT ''"},
	{"domain", "TEXT NOT NULL DEFAULT ''"},
	{"phone", "TEXT NOT NULL DEFAULT ''"},
	{"discovered_email", "TEXT NOT NULL DEFAULT ''"},
	{"email_status", "TEXT NOT NULL DEFAULT 'pending'"},
	{"tier", "TEXT NOT NULL DEFAULT 'D'"},
	{"priority_score", "INTEGER NOT NULL DEFAULT 50"},
	{"confidence_score", "INTEGER NOT NULL DEFAULT 0"},
	{"account_status", "TEXT NOT NULL DEFAULT 'cold'"},
	{"next_action", "TEXT NOT NULL DEFAULT ''"},
	{"next_action_date", "TEXT NOT NULL DEFAULT ''"},
	{"last_touch_date", "TEXT NOT NULL DEFAULT ''"},
	{"bounce_count", "INTEGER NOT NULL DEFAULT 0"},
	{"bounced_emails", "TEXT NOT NULL DEFAULT ''"},
	{"notes", "TEXT NOT NULL DEFAULT ''"},
	{"decision_maker_found", "INTEGER NOT NULL DEFAULT 0"},
	{"source", "TEXT NOT NULL DEFAULT ''"},
	{"outreach_status", "TEXT NOT NULL DEFAULT 'pending'"},
	{"linkedin_url", "TEXT NOT NULL DEFAULT ''"},
	{"created_at", "TEXT NOT NULL DEFAULT ''"},
	{"updated_at", "TEXT NOT NULL DEFAULT ''"},
}

// addMissingColumns brings an older table up to the current column set.
func addMissingColumns(tx *sql.Tx, table string, columns []columnDef) error {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("reading %s columns: %w", table, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range columns {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.ddl)
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("adding column %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

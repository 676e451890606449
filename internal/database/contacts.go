package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const contactColumns = `id, company_name, contact_name, title_role, city, website, domain, phone,
	discovered_email, email_status, tier, priority_score, confidence_score,
	account_status, next_action, next_action_date, last_touch_date,
	bounce_count, bounced_emails, notes, decision_maker_found, source,
	outreach_status, linkedin_url, COALESCE(created_at, ''), COALESCE(updated_at, '')`

// InsertContact creates a contact. Empty lifecycle fields take the column
// defaults (cold / pending / tier D).
func (db *DB) InsertContact(c *Contact) (int64, error) {
	emailStatus := c.EmailStatus
	if emailStatus == "" {
		emailStatus = "pending"
	}
	accountStatus := c.AccountStatus
	if accountStatus == "" {
		accountStatus = "cold"
	}
	tier := c.Tier
	if tier == "" {
		tier = "D"
	}
	outreach := c.OutreachStatus
	if outreach == "" {
		outreach = "pending"
	}
	priority := c.PriorityScore
	if priority == 0 {
		priority = 50
	}

	result, err := db.conn.Exec(
		`INSERT INTO contacts (company_name, contact_name, title_role, city, website, domain, phone,
			discovered_email, email_status, tier, priority_score, confidence_score,
			account_status, next_action, next_action_date, last_touch_date,
			bounce_count, bounced_emails, notes, decision_maker_found, source, outreach_status, linkedin_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CompanyName, c.ContactName, c.TitleRole, c.City, c.Website, c.Domain, c.Phone,
		c.DiscoveredEmail, emailStatus, tier, priority, c.ConfidenceScore,
		accountStatus, c.NextAction, c.NextActionDate, c.LastTouchDate,
		c.BounceCount, c.BouncedEmails, c.Notes, boolToInt(c.DecisionMakerFound), c.Source, outreach, c.LinkedInURL,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetContact returns a contact by ID, or nil if it does not exist.
func (db *DB) GetContact(id int64) (*Contact, error) {
	return getContact(db.conn, id)
}

// FindContactByEmail returns the contact whose discovered email matches.
func (db *DB) FindContactByEmail(email string) (*Contact, error) {
	row := db.conn.QueryRow(
		"SELECT "+contactColumns+" FROM contacts WHERE LOWER(discovered_email) = ? ORDER BY id LIMIT 1",
		strings.ToLower(strings.TrimSpace(email)),
	)
	return scanContact(row)
}

// ListContacts returns contacts, optionally filtered by account status,
// ordered by confidence descending.
func (db *DB) ListContacts(status string, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + contactColumns + " FROM contacts"
	var args []any
	if status != "" {
		query += " WHERE account_status = ?"
		args = append(args, status)
	}
	query += " ORDER BY confidence_score DESC, id ASC LIMIT ?"
	args = append(args, limit)
	return db.queryContacts(query, args...)
}

// ListCompanies returns every contact's company name for signal matching.
func (db *DB) ListCompanies() ([]CompanyRef, error) {
	rows, err := db.conn.Query(
		"SELECT id, company_name FROM contacts WHERE company_name != '' AND account_status != 'dnc' ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []CompanyRef
	for rows.Next() {
		var r CompanyRef
		if err := rows.Scan(&r.ID, &r.CompanyName); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// ListScorableContactIDs returns every contact not in dnc.
func (db *DB) ListScorableContactIDs() ([]int64, error) {
	return db.queryIDs("SELECT id FROM contacts WHERE account_status != 'dnc' ORDER BY id")
}

// ListExpiredRevisits returns revisit contacts whose timer is due on or before today.
func (db *DB) ListExpiredRevisits(today string) ([]int64, error) {
	return db.queryIDs(
		`SELECT id FROM contacts
		WHERE account_status = 'revisit' AND next_action_date != '' AND next_action_date <= ?
		ORDER BY id`, today,
	)
}

// ReactivationSubject is the touch subject logged when a revisit timer
// returns a contact to cold.
const ReactivationSubject = "Status: revisit → cold"

// ListNoReplyCandidates returns cold/contacted contacts with at least
// minOutbound outbound email touches and no inbound touches at all. Only
// touches logged after the latest reactivation count.
func (db *DB) ListNoReplyCandidates(minOutbound int) ([]int64, error) {
	return db.queryIDs(
		`SELECT c.id FROM contacts c
		WHERE c.account_status IN ('cold', 'contacted')
		AND (SELECT COUNT(*) FROM touch_log t
			WHERE t.contact_id = c.id AND t.channel = 'email' AND t.direction = 'outbound'
			AND t.id > COALESCE((SELECT MAX(r.id) FROM touch_log r
				WHERE r.contact_id = c.id AND r.subject = ?), 0)) >= ?
		AND (SELECT COUNT(*) FROM touch_log t
			WHERE t.contact_id = c.id AND t.direction = 'inbound') = 0
		ORDER BY c.id`, ReactivationSubject, minOutbound,
	)
}

// ChangeStatus runs one lifecycle transition as a single transaction.
// decide receives the current row (nil when the contact does not exist) and
// returns the change to apply, nil for no change, or an error that aborts
// the transaction without writing anything. decide's error is returned
// unwrapped so callers can match their own sentinels.
func (db *DB) ChangeStatus(id int64, decide func(*Contact) (*StatusChange, error)) (*StatusChange, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin status change: %w", err)
	}
	defer tx.Rollback()

	current, err := getContact(tx, id)
	if err != nil {
		return nil, fmt.Errorf("loading contact %d: %w", id, err)
	}

	change, err := decide(current)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, nil
	}
	if current == nil {
		return nil, ErrNotFound
	}

	sets := []string{"account_status = ?", "last_touch_date = ?", "updated_at = datetime('now')"}
	args := []any{change.To, change.TouchDate}
	if change.NextAction != nil {
		sets = append(sets, "next_action = ?")
		args = append(args, *change.NextAction)
	}
	if change.NextActionDate != nil {
		sets = append(sets, "next_action_date = ?")
		args = append(args, *change.NextActionDate)
	}
	args = append(args, id)

	if _, err := tx.Exec("UPDATE contacts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
		return nil, fmt.Errorf("updating contact %d: %w", id, err)
	}

	if _, err := insertTouch(tx, &Touch{
		ContactID: id,
		Channel:   "email",
		Direction: "outbound",
		Subject:   change.TouchSubject,
		Notes:     change.TouchNotes,
		TouchDate: change.TouchDate,
	}); err != nil {
		return nil, fmt.Errorf("logging status touch for %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status change: %w", err)
	}
	return change, nil
}

// SetConfidenceScore stores a computed confidence score.
func (db *DB) SetConfidenceScore(id int64, score int) error {
	_, err := db.conn.Exec(
		"UPDATE contacts SET confidence_score = ?, updated_at = datetime('now') WHERE id = ?",
		score, id,
	)
	return err
}

// GetConfidenceInputs loads a contact plus the aggregates the scorer needs.
// Returns nil if the contact does not exist.
func (db *DB) GetConfidenceInputs(id int64) (*ConfidenceInputs, error) {
	c, err := db.GetContact(id)
	if err != nil || c == nil {
		return nil, err
	}

	in := &ConfidenceInputs{Contact: *c}
	var opens int
	var lastSent sql.NullString
	err = db.conn.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM news_signals WHERE contact_id = ? AND status != 'dismissed'),
			(SELECT COUNT(*) FROM outreach_bundles WHERE contact_id = ? AND open_count > 0),
			(SELECT MAX(sent_at) FROM outreach_bundles WHERE contact_id = ? AND status IN ('sent', 'replied') AND sent_at != '')`,
		id, id, id,
	).Scan(&in.SignalCount, &opens, &lastSent)
	if err != nil {
		return nil, fmt.Errorf("loading confidence aggregates for %d: %w", id, err)
	}
	in.HasOpens = opens > 0
	in.LastSent = lastSent.String
	return in, nil
}

// SetDomain stores the derived mail domain.
func (db *DB) SetDomain(id int64, domain string) error {
	_, err := db.conn.Exec("UPDATE contacts SET domain = ?, updated_at = datetime('now') WHERE id = ?", domain, id)
	return err
}

// SetEmailStatus records a terminal discovery status without touching the address.
func (db *DB) SetEmailStatus(id int64, status string) error {
	_, err := db.conn.Exec("UPDATE contacts SET email_status = ?, updated_at = datetime('now') WHERE id = ?", status, id)
	return err
}

// SaveDiscoveredEmail stores a resolved address. resetOutreach puts the
// contact back into the send queue.
func (db *DB) SaveDiscoveredEmail(id int64, email, status string, resetOutreach bool) error {
	query := "UPDATE contacts SET discovered_email = ?, email_status = ?, updated_at = datetime('now')"
	if resetOutreach {
		query += ", outreach_status = 'pending'"
	}
	_, err := db.conn.Exec(query+" WHERE id = ?", email, status, id)
	return err
}

// SetLinkedInURL stores a profile URL returned by the person finder.
func (db *DB) SetLinkedInURL(id int64, url string) error {
	_, err := db.conn.Exec("UPDATE contacts SET linkedin_url = ?, updated_at = datetime('now') WHERE id = ?", url, id)
	return err
}

// RecordBounce appends email to the bounced set (deduplicated), bumps the
// bounce counter and marks the contact bounced and pending rediscovery.
func (db *DB) RecordBounce(id int64, email string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c, err := getContact(tx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}

	bounced := c.BouncedList()
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" && !c.HasBounced(email) {
		bounced = append(bounced, email)
	}

	if _, err := tx.Exec(
		`UPDATE contacts SET bounced_emails = ?, bounce_count = bounce_count + 1,
			email_status = 'bounced', outreach_status = 'pending', updated_at = datetime('now')
		WHERE id = ?`,
		strings.Join(bounced, ","), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ListPendingDiscovery returns contacts awaiting discovery, highest priority first.
func (db *DB) ListPendingDiscovery(limit int) ([]int64, error) {
	return db.queryIDs(
		`SELECT id FROM contacts
		WHERE email_status = 'pending' AND (domain != '' OR website != '') AND account_status != 'dnc'
		ORDER BY priority_score DESC, id ASC LIMIT ?`, limit,
	)
}

func getContact(q queryer, id int64) (*Contact, error) {
	return scanContact(q.QueryRow("SELECT "+contactColumns+" FROM contacts WHERE id = ?", id))
}

func scanContact(row *sql.Row) (*Contact, error) {
	var c Contact
	var dm int
	err := row.Scan(&c.ID, &c.CompanyName, &c.ContactName, &c.TitleRole, &c.City, &c.Website,
		&c.Domain, &c.Phone, &c.DiscoveredEmail, &c.EmailStatus, &c.Tier, &c.PriorityScore,
		&c.ConfidenceScore, &c.AccountStatus, &c.NextAction, &c.NextActionDate, &c.LastTouchDate,
		&c.BounceCount, &c.BouncedEmails, &c.Notes, &dm, &c.Source, &c.OutreachStatus,
		&c.LinkedInURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.DecisionMakerFound = dm != 0
	return &c, nil
}

func (db *DB) queryContacts(query string, args ...any) ([]Contact, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var dm int
		if err := rows.Scan(&c.ID, &c.CompanyName, &c.ContactName, &c.TitleRole, &c.City, &c.Website,
			&c.Domain, &c.Phone, &c.DiscoveredEmail, &c.EmailStatus, &c.Tier, &c.PriorityScore,
			&c.ConfidenceScore, &c.AccountStatus, &c.NextAction, &c.NextActionDate, &c.LastTouchDate,
			&c.BounceCount, &c.BouncedEmails, &c.Notes, &dm, &c.Source, &c.OutreachStatus,
			&c.LinkedInURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.DecisionMakerFound = dm != 0
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (db *DB) queryIDs(query string, args ...any) ([]int64, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

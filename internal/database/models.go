package database

import "strings"

// Contact is one lead/account row.
type Contact struct {
	ID                 int64
	CompanyName        string
	ContactName        string
	TitleRole          string
	City               string
	Website            string
	Domain             string
	Phone              string
	DiscoveredEmail    string
	EmailStatus        string // pending, verified, likely, invalid, unknown, bounced, needs_manual, exhausted
	Tier               string // A, B, C, D, E, HOT
	PriorityScore      int
	ConfidenceScore    int
	AccountStatus      string
	NextAction         string
	NextActionDate     string
	LastTouchDate      string
	BounceCount        int
	BouncedEmails      string // comma-joined
	Notes              string
	DecisionMakerFound bool
	Source             string
	OutreachStatus     string
	LinkedInURL        string
	CreatedAt          string
	UpdatedAt          string
}

// BouncedList returns the recorded bounced addresses, lower-cased.
func (c *Contact) BouncedList() []string {
	return splitEmails(c.BouncedEmails)
}

// HasBounced reports whether email was already recorded as bounced.
func (c *Contact) HasBounced(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, b := range c.BouncedList() {
		if b == email {
			return true
		}
	}
	return false
}

// Touch is one append-only interaction log row.
type Touch struct {
	ID        int64
	ContactID int64
	Channel   string
	Direction string // "outbound" or "inbound"
	Subject   string
	Notes     string
	TouchDate string
	CreatedAt string
}

// TouchCounts holds the enforcement counters for one contact.
type TouchCounts struct {
	OutboundEmail int
	Inbound       int
}

// StatusChange describes every field a lifecycle transition writes.
// Nil NextAction/NextActionDate leave the stored values untouched.
type StatusChange struct {
	From           string
	To             string
	NextAction     *string
	NextActionDate *string
	TouchDate      string
	TouchSubject   string
	TouchNotes     string
}

// Bundle is the outreach record a send/track collaborator maintains.
type Bundle struct {
	ID           int64
	ContactID    int64
	BatchDate    string
	EmailSubject string
	Status       string // queued, sent, bounced, replied
	SentAt       string
	OpenCount    int
	CreatedAt    string
}

// Signal is a news item linked (or not yet) to a contact.
type Signal struct {
	ID            int64
	SourceName    string
	SourceURL     string
	Headline      string
	Snippet       string
	SignalType    string
	ContactID     *int64
	Status        string // new, reviewed, dismissed
	PublishedDate string
	CreatedAt     string
}

// DiscoveryLogEntry records one step of an email discovery run.
type DiscoveryLogEntry struct {
	ID        int64
	ContactID int64
	Step      string
	Result    string
	Detail    string
	CreatedAt string
}

// ConfidenceInputs is a contact plus the aggregates the scorer reads.
type ConfidenceInputs struct {
	Contact     Contact
	SignalCount int
	HasOpens    bool
	LastSent    string
}

// CompanyRef is the minimal projection used for company-name matching.
type CompanyRef struct {
	ID          int64
	CompanyName string
}

// BoardStats contains aggregate account lifecycle statistics.
type BoardStats struct {
	Total            int
	ByStatus         map[string]int
	AvgConfidence    map[string]float64
	ByEmailStatus    map[string]int
	HighConfidence   int // >= 70, excluding dnc
	MediumConfidence int // 40-69, excluding dnc
	LowConfidence    int // < 40, excluding dnc
	ProbesToday      int
}

func splitEmails(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

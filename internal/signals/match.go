package signals

import (
	"regexp"
	"strings"

	"github.com/TobiSchelling/outreach/internal/database"
)

const minCompanyNameLen = 4

// companySuffixes are dropped before matching so "Acme Law LLC" still
// matches a story that says "Acme Law".
var companySuffixes = regexp.MustCompile(`(?i)[,.]?\s+(llc|llp|inc|ltd|corp|co|pllc|pc)\.?$`)

// Matcher finds known companies mentioned in news text.
type Matcher struct {
	companies []matchTarget
}

type matchTarget struct {
	id      int64
	name    string
	pattern *regexp.Regexp
}

// NewMatcher compiles a whole-word, case-insensitive pattern per company.
// Names too short to match reliably are ignored.
func NewMatcher(refs []database.CompanyRef) *Matcher {
	m := &Matcher{}
	for _, r := range refs {
		name := strings.TrimSpace(companySuffixes.ReplaceAllString(strings.TrimSpace(r.CompanyName), ""))
		if len(name) < minCompanyNameLen {
			continue
		}
		m.companies = append(m.companies, matchTarget{
			id:      r.ID,
			name:    name,
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`),
		})
	}
	return m
}

// Match returns the contact whose company name appears in text. The
// longest matching name wins; ties keep the lowest ID.
func (m *Matcher) Match(text string) (int64, bool) {
	var best *matchTarget
	for i := range m.companies {
		c := &m.companies[i]
		if !c.pattern.MatchString(text) {
			continue
		}
		if best == nil || len(c.name) > len(best.name) {
			best = c
		}
	}
	if best == nil {
		return 0, false
	}
	return best.id, true
}

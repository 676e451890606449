package discovery

import (
	"regexp"
	"strings"
)

var (
	nonAlpha      = regexp.MustCompile(`[^a-z]`)
	bareWord      = regexp.MustCompile(`^[a-z]+$`)
	dottedWords   = regexp.MustCompile(`^[a-z]+\.[a-z]+$`)
	longWord      = regexp.MustCompile(`^[a-z][a-z]{3,}$`)
	underscored   = regexp.MustCompile(`^[a-z]+_[a-z]+$`)
	genericLocals = map[string]bool{
		"info": true, "contact": true, "office": true, "hello": true, "admin": true, "general": true,
	}
)

// ParseName splits "First Middle Last" into first and last. A single word
// yields an empty last name.
func ParseName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	first = parts[0]
	if len(parts) > 1 {
		last = parts[len(parts)-1]
	}
	return first, last
}

// GenerateVariations builds the canonical local-part patterns for a person
// at domain, deduplicated with order preserved. deep adds the reversed and
// hyphenated forms plus generic mailboxes used for bounce recovery.
func GenerateVariations(first, last, domain string, deep bool) []string {
	first = nonAlpha.ReplaceAllString(strings.ToLower(strings.TrimSpace(first)), "")
	last = nonAlpha.ReplaceAllString(strings.ToLower(strings.TrimSpace(last)), "")
	domain = strings.ToLower(strings.TrimSpace(domain))
	if first == "" || domain == "" {
		return nil
	}

	locals := []string{first}
	if last != "" {
		f, l := first[:1], last[:1]
		locals = append(locals,
			first+"."+last,
			first+last,
			f+last,
			first+l,
			first+"_"+last,
			last,
		)
		if deep {
			locals = append(locals,
				last+"."+first,
				last+first,
				last+f,
				f+"."+last,
				first+"-"+last,
				last+"-"+first,
				first+"."+l,
				"info", "contact", "office", "hello", "admin",
			)
		}
	}

	seen := make(map[string]bool, len(locals))
	out := make([]string, 0, len(locals))
	for _, local := range locals {
		email := local + "@" + domain
		if seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}

// PatternScore ranks an address by how plausible its local part is as a
// real mailbox. It is only a last-resort tie-break between candidates that
// no probe could decide.
func PatternScore(email string) int {
	local := strings.ToLower(email)
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	switch {
	case genericLocals[local]:
		return 30
	case bareWord.MatchString(local) && len(local) <= 15:
		return 100
	case dottedWords.MatchString(local):
		return 80
	case longWord.MatchString(local) && len(local) > 4:
		return 60
	case underscored.MatchString(local):
		return 50
	default:
		return 10
	}
}

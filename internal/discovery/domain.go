package discovery

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	syntaxPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Generic mailboxes that never reach a person. info@ and contact@ are kept
// on purpose: for small local businesses they are often the owner.
var ignoredPrefixes = []string{"noreply@", "no-reply@", "jobs@", "careers@", "privacy@"}

// Asset names that look like addresses ("logo@2x.png").
var fileSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// ValidateSyntax reports whether email looks like a deliverable address.
func ValidateSyntax(email string) bool {
	return syntaxPattern.MatchString(email)
}

// NormalizeURL ensures website has a scheme. Empty input stays empty.
func NormalizeURL(website string) string {
	u := strings.TrimSpace(website)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(u), "http") {
		u = "https://" + u
	}
	return u
}

// ExtractDomain returns the bare, lower-cased, ASCII host of a website,
// without a leading "www.". It returns "" for anything unparsable.
func ExtractDomain(website string) string {
	raw := NormalizeURL(website)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return ""
	}
	return ascii
}

// usable applies the shared candidate filters: syntax, generic prefix
// denylist and asset-name suffixes.
func usable(email string) bool {
	if !ValidateSyntax(email) {
		return false
	}
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(email, p) {
			return false
		}
	}
	for _, s := range fileSuffixes {
		if strings.HasSuffix(email, s) {
			return false
		}
	}
	return true
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return strings.ToLower(email[i+1:])
	}
	return ""
}

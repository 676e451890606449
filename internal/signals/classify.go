package signals

import (
	"regexp"
	"strings"
)

// Signal types, most valuable first.
const (
	TypeRelocation   = "relocation"
	TypeExpansion    = "expansion"
	TypeNewBusiness  = "new_business"
	TypeConstruction = "construction"
	TypeRealEstate   = "real_estate"
	TypeZoning       = "zoning"
	TypeClosure      = "closure"
	TypeHiring       = "hiring"
	TypeLawsuit      = "lawsuit"
)

type signalRule struct {
	signalType string
	pattern    *regexp.Regexp
}

// First match wins, so the order is the tie-break.
var signalRules = []signalRule{
	{TypeRelocation, regexp.MustCompile(`(?i)\breloc\w*|\bmov(e|ing)\s+(to|into|from)\b|\bnew\s+headquarters\b`)},
	{TypeExpansion, regexp.MustCompile(`(?i)\bexpand\w*|\bexpansion\b|\bnew\s+(facil\w*|plant|office|warehouse|store|location)\b|\bmerger\b|\bacquisition\b`)},
	{TypeNewBusiness, regexp.MustCompile(`(?i)\bnew\s+business\b|\bgrand\s+opening\b|\bopening\b`)},
	{TypeConstruction, regexp.MustCompile(`(?i)\bconstruction\b|\bground\s*breaking\b|\bbuild\w*\s+permit\b|\bdevelopment\s+permit\b|\bdemolition\b`)},
	{TypeRealEstate, regexp.MustCompile(`(?i)\bcommercial\s+(real\s+estate|property|sale)\b|\boffice\s+space\b|\bwarehouse\s+space\b`)},
	{TypeZoning, regexp.MustCompile(`(?i)\b(re)?zoning\b`)},
	{TypeClosure, regexp.MustCompile(`(?i)\bclosing\b|\bclosure\b|\bbankrupt\w*|\bshutting\s+down\b`)},
	{TypeHiring, regexp.MustCompile(`(?i)\bhiring\b|\b\d{2,}\s+(new\s+)?jobs?\b`)},
	{TypeLawsuit, regexp.MustCompile(`(?i)\blawsuit\b|\bsettlement\b`)},
}

var noisePattern = regexp.MustCompile(`(?i)\b(hockey|nhl|football|soccer|basketball|baseball|weather|forecast|obituar\w*|funeral|concert|festival|movie|recipe|election|poll|murder|robbery|assault|arrest)\b`)

// Classify returns the signal type for a headline and snippet, or false if
// the item is noise or matches nothing. Extra keywords from config mark an
// item as an expansion signal when no built-in rule fires.
func Classify(headline, snippet string, keywords []string) (string, bool) {
	text := headline + " " + snippet
	if noisePattern.MatchString(text) {
		return "", false
	}
	for _, rule := range signalRules {
		if rule.pattern.MatchString(text) {
			return rule.signalType, true
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(lower, kw) {
			return TypeExpansion, true
		}
	}
	return "", false
}

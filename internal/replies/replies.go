// Package replies classifies inbound replies and feeds them into the
// account lifecycle.
package replies

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"

	"github.com/TobiSchelling/outreach/internal/account"
	"github.com/TobiSchelling/outreach/internal/database"
	"github.com/TobiSchelling/outreach/internal/llm"
)

const classifyPrompt = `You are sorting replies to a short B2B sales email sent to a small business.

Classify the reply as exactly one of:
- positive: wants to talk, asks a question, asks for pricing, a meeting, or more information
- negative: not interested, asks to be removed or to stop emailing, hostile
- neutral: out-of-office, auto-reply, forwarded to someone else, or unclear

Subject: %s
Reply:
%s

Respond with ONLY this JSON:
{"sentiment": "positive" | "negative" | "neutral"}`

const maxReplyChars = 3000

// ErrUnknownSender is returned when no contact has the reply's address.
var ErrUnknownSender = errors.New("reply sender does not match any contact")

// Classification methods.
const (
	MethodLLM      = "llm"
	MethodKeywords = "keywords"
)

// ReplyHook receives classified replies. *account.Manager satisfies it.
type ReplyHook interface {
	OnReplyReceived(ctx context.Context, id int64, sentiment account.Sentiment, bundleID int64) error
}

// Reply is one inbound message.
type Reply struct {
	From     string
	Subject  string
	Body     string
	BundleID int64 // 0 means the contact's latest bundle
}

// Result describes how a reply was handled.
type Result struct {
	ContactID int64
	BundleID  int64
	Sentiment account.Sentiment
	Method    string
}

// Classifier turns replies into sentiments using an LLM when one is
// available and keyword rules otherwise.
type Classifier struct {
	db        *database.DB
	provider  llm.Provider
	hook      ReplyHook
	maxTokens int
}

// NewClassifier creates a classifier. provider may be nil.
func NewClassifier(db *database.DB, provider llm.Provider, hook ReplyHook, maxTokens int) *Classifier {
	if maxTokens <= 0 {
		maxTokens = 64
	}
	return &Classifier{db: db, provider: provider, hook: hook, maxTokens: maxTokens}
}

// Process resolves the sender, classifies the reply and fires the reply
// hook.
func (c *Classifier) Process(ctx context.Context, r Reply) (*Result, error) {
	addr := senderAddress(r.From)
	if addr == "" {
		return nil, fmt.Errorf("invalid sender %q", r.From)
	}
	contact, err := c.db.FindContactByEmail(addr)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", addr, err)
	}
	if contact == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSender, addr)
	}

	bundleID := r.BundleID
	if bundleID == 0 {
		if bundleID, err = c.db.LatestBundleID(contact.ID); err != nil {
			return nil, fmt.Errorf("finding bundle for contact #%d: %w", contact.ID, err)
		}
	}

	sentiment, method := c.Classify(ctx, r.Subject, r.Body)
	log.Printf("Reply from %s (contact #%d) classified %s via %s", addr, contact.ID, sentiment, method)

	if c.hook != nil {
		if err := c.hook.OnReplyReceived(ctx, contact.ID, sentiment, bundleID); err != nil {
			return nil, fmt.Errorf("reply hook for contact #%d: %w", contact.ID, err)
		}
	}
	return &Result{ContactID: contact.ID, BundleID: bundleID, Sentiment: sentiment, Method: method}, nil
}

// Classify returns the sentiment of a reply and the method that decided it.
// LLM failures and unparseable answers fall back to keyword rules.
func (c *Classifier) Classify(ctx context.Context, subject, body string) (account.Sentiment, string) {
	if c.provider != nil {
		if s, ok := c.classifyLLM(ctx, subject, body); ok {
			return s, MethodLLM
		}
	}
	return ClassifyKeywords(subject + "\n" + body), MethodKeywords
}

func (c *Classifier) classifyLLM(ctx context.Context, subject, body string) (account.Sentiment, bool) {
	if len(body) > maxReplyChars {
		body = body[:maxReplyChars] + "..."
	}
	text, err := c.provider.Generate(ctx, fmt.Sprintf(classifyPrompt, subject, body), c.maxTokens)
	if err != nil {
		log.Printf("LLM reply classification failed: %v", err)
		return "", false
	}
	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		return "", false
	}
	switch s := account.Sentiment(strings.ToLower(strings.TrimSpace(llm.StringField(parsed, "sentiment", "")))); s {
	case account.Positive, account.Negative, account.Neutral:
		return s, true
	default:
		log.Printf("LLM returned unknown sentiment %q", s)
		return "", false
	}
}

var (
	autoReplyPhrases = []string{
		"out of office", "out of the office", "auto-reply", "autoreply",
		"automatic reply", "on vacation", "on leave", "away from the office",
	}
	negativePhrases = []string{
		"not interested", "no interest", "unsubscribe", "remove me", "take me off",
		"stop emailing", "stop contacting", "do not contact", "don't contact",
		"no thanks", "no thank you", "not a fit", "please stop", "spam",
	}
	positivePhrases = []string{
		"interested", "let's talk", "lets talk", "sounds good", "schedule",
		"set up a call", "give me a call", "call me", "tell me more", "more info",
		"pricing", "how much", "available", "meeting", "demo",
	}
)

// ClassifyKeywords is the rule-based fallback. Auto-replies win over
// refusals, and refusals win over interest.
func ClassifyKeywords(text string) account.Sentiment {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, autoReplyPhrases):
		return account.Neutral
	case containsAny(lower, negativePhrases):
		return account.Negative
	case containsAny(lower, positivePhrases):
		return account.Positive
	default:
		return account.Neutral
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func senderAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if a, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(a.Address)
	}
	if strings.Contains(from, "@") && !strings.ContainsAny(from, " <>") {
		return strings.ToLower(from)
	}
	return ""
}

package replies

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/TobiSchelling/outreach/internal/account"
	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response string
	err      error
	prompts  []string
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newManager(db *database.DB) *account.Manager {
	cfg := config.Account{RevisitNoReplyDays: 90, RevisitNegativeDays: 180, NoReplyTouches: 3}
	return account.NewManager(db, cfg, clockwork.NewFakeClockAt(time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)))
}

func seedContact(t *testing.T, db *database.DB, status string) (int64, int64) {
	t.Helper()
	id, err := db.InsertContact(&database.Contact{
		CompanyName:     "Acme Law",
		ContactName:     "Jane Doe",
		DiscoveredEmail: "jane@acme.com",
		EmailStatus:     "verified",
		AccountStatus:   status,
	})
	if err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	bundleID, err := db.InsertBundle(id, "2026-02-01", "Quick question")
	if err != nil {
		t.Fatalf("InsertBundle: %v", err)
	}
	return id, bundleID
}

func TestProcessPositiveReplyViaLLM(t *testing.T) {
	db := openTestDB(t)
	id, bundleID := seedContact(t, db, "contacted")
	provider := &mockProvider{response: "```json\n{\"sentiment\": \"Positive\"}\n```"}

	c := NewClassifier(db, provider, newManager(db), 0)
	res, err := c.Process(context.Background(), Reply{
		From:    "Jane Doe <JANE@acme.com>",
		Subject: "Re: Quick question",
		Body:    "Happy to chat next week.",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.ContactID != id || res.BundleID != bundleID {
		t.Errorf("expected contact %d bundle %d, got %+v", id, bundleID, res)
	}
	if res.Sentiment != account.Positive || res.Method != MethodLLM {
		t.Errorf("expected positive via llm, got %s via %s", res.Sentiment, res.Method)
	}
	if len(provider.prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(provider.prompts))
	}

	contact, _ := db.GetContact(id)
	if contact.AccountStatus != "engaged" {
		t.Errorf("expected engaged, got %s", contact.AccountStatus)
	}
	bundle, _ := db.GetBundle(bundleID)
	if bundle.Status != "replied" {
		t.Errorf("expected bundle replied, got %s", bundle.Status)
	}
	counts, _ := db.CountTouches(id)
	if counts.Inbound != 1 {
		t.Errorf("expected 1 inbound touch, got %d", counts.Inbound)
	}
}

func TestProcessFallsBackToKeywords(t *testing.T) {
	db := openTestDB(t)
	id, _ := seedContact(t, db, "contacted")
	provider := &mockProvider{err: errors.New("connection refused")}

	c := NewClassifier(db, provider, newManager(db), 64)
	res, err := c.Process(context.Background(), Reply{
		From: "jane@acme.com",
		Body: "Not interested. Please remove me from your list.",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Sentiment != account.Negative || res.Method != MethodKeywords {
		t.Errorf("expected negative via keywords, got %s via %s", res.Sentiment, res.Method)
	}

	contact, _ := db.GetContact(id)
	if contact.AccountStatus != "revisit" {
		t.Errorf("expected revisit, got %s", contact.AccountStatus)
	}
	if contact.NextAction != account.NextNegativeReply {
		t.Errorf("expected negative timer, got %q", contact.NextAction)
	}
	if contact.NextActionDate != "2026-08-05" {
		t.Errorf("expected 180-day timer, got %s", contact.NextActionDate)
	}
}

func TestProcessExplicitBundle(t *testing.T) {
	db := openTestDB(t)
	id, first := seedContact(t, db, "cold")
	if _, err := db.InsertBundle(id, "2026-02-03", "Follow-up"); err != nil {
		t.Fatal(err)
	}

	c := NewClassifier(db, nil, newManager(db), 0)
	res, err := c.Process(context.Background(), Reply{From: "jane@acme.com", BundleID: first, Body: "Thanks"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.BundleID != first {
		t.Errorf("expected bundle %d, got %d", first, res.BundleID)
	}
	bundle, _ := db.GetBundle(first)
	if bundle.Status != "replied" {
		t.Errorf("expected first bundle replied, got %s", bundle.Status)
	}
	contact, _ := db.GetContact(id)
	if contact.AccountStatus != "contacted" {
		t.Errorf("expected cold reply to move to contacted, got %s", contact.AccountStatus)
	}
}

func TestProcessUnknownSender(t *testing.T) {
	db := openTestDB(t)
	seedContact(t, db, "contacted")
	c := NewClassifier(db, nil, newManager(db), 0)

	_, err := c.Process(context.Background(), Reply{From: "someone@else.com", Body: "hi"})
	if !errors.Is(err, ErrUnknownSender) {
		t.Errorf("expected ErrUnknownSender, got %v", err)
	}

	if _, err := c.Process(context.Background(), Reply{From: "not an address"}); err == nil {
		t.Error("expected error for invalid sender")
	}
}

func TestClassifyRejectsUnknownLLMSentiment(t *testing.T) {
	c := NewClassifier(nil, &mockProvider{response: `{"sentiment": "maybe"}`}, nil, 0)
	s, method := c.Classify(context.Background(), "Re: hello", "Can you send pricing?")
	if s != account.Positive || method != MethodKeywords {
		t.Errorf("expected positive via keywords, got %s via %s", s, method)
	}
}

func TestClassifyKeywords(t *testing.T) {
	tests := []struct {
		text string
		want account.Sentiment
	}{
		{"I'm out of office until Monday, interested parties contact Bob", account.Neutral},
		{"Automatic reply: away", account.Neutral},
		{"We are not interested", account.Negative},
		{"Please unsubscribe me", account.Negative},
		{"Sounds good, let's talk Tuesday", account.Positive},
		{"How much does it cost?", account.Positive},
		{"Forwarding to my partner", account.Neutral},
		{"", account.Neutral},
	}
	for _, tt := range tests {
		if got := ClassifyKeywords(tt.text); got != tt.want {
			t.Errorf("ClassifyKeywords(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestSenderAddress(t *testing.T) {
	tests := map[string]string{
		"Jane <Jane@Acme.com>": "jane@acme.com",
		"jane@acme.com":        "jane@acme.com",
		"  ":                   "",
		"nobody":               "",
	}
	for in, want := range tests {
		if got := senderAddress(in); got != want {
			t.Errorf("senderAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

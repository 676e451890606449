// Package signals scans news feeds for events at known companies (moves,
// expansions, hiring) and links them to contacts so the confidence scorer
// can use them.
package signals

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
)

const (
	// Feed snippets shorter than this get the full article fetched before
	// company matching.
	shortSnippet = 200
	maxSnippet   = 500
)

// Rescorer recomputes a contact's confidence score. *account.Manager
// satisfies it.
type Rescorer interface {
	ComputeConfidenceScore(ctx context.Context, id int64) (int, error)
}

// Result holds the counts from one scan.
type Result struct {
	Entries    int
	Duplicates int
	Relevant   int
	Fetched    int
	Matched    int
	Stored     int
}

// Scanner turns feed entries into stored news signals.
type Scanner struct {
	db       *database.DB
	parser   *FeedParser
	fetcher  *ArticleFetcher
	keywords []string
	rescorer Rescorer
	clock    clockwork.Clock
}

// NewScanner creates a scanner from the signals config. client is used for
// feed requests; nil uses the default. rescorer may be nil.
func NewScanner(db *database.DB, cfg config.Signals, client *http.Client, rescorer Rescorer, clock clockwork.Clock) *Scanner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scanner{
		db:       db,
		parser:   NewFeedParser(cfg.Feeds, cfg.MaxPerFeed, client),
		fetcher:  NewArticleFetcher(cfg.FetchTimeout, "outreach/1.0 (news signals)"),
		keywords: cfg.Keywords,
		rescorer: rescorer,
		clock:    clock,
	}
}

// Scan reads entries from the last daysBack days, keeps the relevant ones
// and links them to known companies.
func (s *Scanner) Scan(ctx context.Context, daysBack int) (*Result, error) {
	refs, err := s.db.ListCompanies()
	if err != nil {
		return nil, fmt.Errorf("loading companies: %w", err)
	}
	matcher := NewMatcher(refs)

	cutoff := s.clock.Now().AddDate(0, 0, -daysBack)
	entries := s.parser.ParseAll(ctx, cutoff)
	r := &Result{Entries: len(entries)}

	failedDomains := make(map[string]struct{})
	touched := make(map[int64]struct{})

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return r, err
		}

		exists, err := s.db.SignalExists(entry.URL)
		if err != nil {
			return r, fmt.Errorf("checking signal %s: %w", entry.URL, err)
		}
		if exists {
			r.Duplicates++
			continue
		}

		signalType, ok := Classify(entry.Title, entry.Content, s.keywords)
		if !ok {
			continue
		}
		r.Relevant++

		text := entry.Content
		if len(text) < shortSnippet {
			if body := s.fetchBody(ctx, entry.URL, failedDomains); body != "" {
				text = body
				r.Fetched++
			}
		}

		sig := &database.Signal{
			SourceName:    entry.Source,
			SourceURL:     entry.URL,
			Headline:      entry.Title,
			Snippet:       truncate(text, maxSnippet),
			SignalType:    signalType,
			PublishedDate: entry.PublishedDate,
		}
		if id, ok := matcher.Match(entry.Title + " " + text); ok {
			sig.ContactID = &id
			r.Matched++
		}

		id, err := s.db.InsertSignal(sig)
		if err != nil {
			log.Printf("Error storing signal %s: %v", entry.URL, err)
			continue
		}
		if id == 0 {
			r.Duplicates++
			continue
		}
		r.Stored++
		if sig.ContactID != nil {
			touched[*sig.ContactID] = struct{}{}
			log.Printf("Signal [%s] for contact #%d: %s", signalType, *sig.ContactID, entry.Title)
		}
	}

	if s.rescorer != nil {
		for id := range touched {
			if _, err := s.rescorer.ComputeConfidenceScore(ctx, id); err != nil {
				log.Printf("Error rescoring contact #%d after signal: %v", id, err)
			}
		}
	}

	log.Printf("Signal scan complete: %d entries, %d relevant, %d stored, %d matched",
		r.Entries, r.Relevant, r.Stored, r.Matched)
	return r, nil
}

// fetchBody returns the article text, skipping domains that already
// answered with an HTTP error in this scan.
func (s *Scanner) fetchBody(ctx context.Context, articleURL string, failed map[string]struct{}) string {
	domain := ""
	if u, err := url.Parse(articleURL); err == nil {
		domain = strings.ToLower(u.Host)
	}
	if _, ok := failed[domain]; ok {
		return ""
	}

	body, err := s.fetcher.Fetch(ctx, articleURL)
	if err != nil {
		if domain != "" {
			failed[domain] = struct{}{}
		}
		log.Printf("HTTP error for %s, skipping remaining from %s", articleURL, domain)
		return ""
	}
	return body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

package signals

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/outreach/internal/config"
)

// FeedEntry is one parsed feed item.
type FeedEntry struct {
	URL           string
	Title         string
	PublishedDate string // YYYY-MM-DD or empty
	Content       string
	Source        string
}

// FeedParser parses the configured RSS/Atom feeds.
type FeedParser struct {
	feeds      []config.Feed
	maxPerFeed int
	client     *http.Client
}

// NewFeedParser creates a feed parser. A nil client uses gofeed's default.
func NewFeedParser(feeds []config.Feed, maxPerFeed int, client *http.Client) *FeedParser {
	if maxPerFeed <= 0 {
		maxPerFeed = 20
	}
	return &FeedParser{feeds: feeds, maxPerFeed: maxPerFeed, client: client}
}

// ParseAll parses every feed and returns entries published since cutoff.
// A feed that fails is logged and skipped.
func (fp *FeedParser) ParseAll(ctx context.Context, cutoff time.Time) []FeedEntry {
	var all []FeedEntry

	parser := gofeed.NewParser()
	if fp.client != nil {
		parser.Client = fp.client
	}
	for _, fc := range fp.feeds {
		if ctx.Err() != nil {
			break
		}
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		feed, err := parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", fc.URL, err)
			continue
		}

		var entries []FeedEntry
		for _, item := range feed.Items {
			if len(entries) >= fp.maxPerFeed {
				break
			}
			entry := parseItem(item, name)
			if entry != nil && isWithinWindow(entry.PublishedDate, cutoff) {
				entries = append(entries, *entry)
			}
		}
		all = append(all, entries...)
		log.Printf("Parsed %d entries from %s", len(entries), name)
	}

	return all
}

func parseItem(item *gofeed.Item, source string) *FeedEntry {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if itemURL == "" || title == "" {
		return nil
	}

	var publishedDate string
	if item.PublishedParsed != nil {
		publishedDate = item.PublishedParsed.Format("2006-01-02")
	} else if item.UpdatedParsed != nil {
		publishedDate = item.UpdatedParsed.Format("2006-01-02")
	}

	content := item.Description
	if item.Content != "" {
		content = item.Content
	}

	return &FeedEntry{
		URL:           itemURL,
		Title:         title,
		PublishedDate: publishedDate,
		Content:       stripHTML(content),
		Source:        source,
	}
}

func isWithinWindow(publishedDate string, cutoff time.Time) bool {
	if publishedDate == "" {
		return true
	}
	pub, err := time.Parse("2006-01-02", publishedDate)
	if err != nil {
		return true
	}
	return !pub.Before(cutoff.Truncate(24 * time.Hour))
}

func stripHTML(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	s := strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'",
	).Replace(b.String())
	return strings.Join(strings.Fields(s), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

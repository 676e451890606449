package discovery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxPageBytes = 2 << 20

var basePages = []string{"", "/about", "/contact", "/about-us", "/team", "/staff", "/people"}

var deepPages = []string{
	"/our-team", "/attorneys", "/lawyers", "/professionals", "/partners",
	"/connect", "/reach-us", "/get-in-touch", "/our-firm", "/leadership", "/directory", "/agents",
}

// Scraper pulls candidate addresses off a business website.
type Scraper struct {
	client    *http.Client
	userAgent string
}

// NewScraper creates a scraper using client for every page fetch.
func NewScraper(client *http.Client, userAgent string) *Scraper {
	return &Scraper{client: client, userAgent: userAgent}
}

// Pages returns the URLs a scrape visits, in order. deep adds team and
// leadership pages plus location pages for city.
func Pages(website string, deep bool, city string) []string {
	base := strings.TrimRight(NormalizeURL(website), "/")
	if base == "" {
		return nil
	}

	paths := append([]string(nil), basePages...)
	if deep {
		paths = append(paths, deepPages...)
		if slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(city)), " ", "-"); slug != "" {
			paths = append(paths,
				"/locations/"+slug,
				"/locations/"+slug+"-office",
				"/"+slug,
				"/"+slug+"-team",
				"/"+slug+"-office",
			)
		}
	}

	urls := make([]string, len(paths))
	for i, p := range paths {
		urls[i] = base + p
	}
	return urls
}

// Scrape fetches every page and returns the addresses found, mailto: links
// first on each page, deduplicated in encounter order. Pages that fail or do
// not answer 200 are skipped.
func (s *Scraper) Scrape(ctx context.Context, website string, deep bool, city string) []string {
	var found []string
	seen := make(map[string]bool)
	add := func(email string) {
		email = strings.ToLower(strings.TrimSpace(email))
		if seen[email] || !usable(email) {
			return
		}
		seen[email] = true
		found = append(found, email)
	}

	for _, page := range Pages(website, deep, city) {
		if ctx.Err() != nil {
			break
		}
		body, ok := s.get(ctx, page)
		if !ok {
			continue
		}

		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
				href, _ := a.Attr("href")
				if email, ok := mailtoAddress(href); ok {
					add(email)
				}
			})
		}
		for _, email := range emailPattern.FindAllString(string(body), -1) {
			add(email)
		}
	}
	return found
}

func (s *Scraper) get(ctx context.Context, pageURL string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, false
	}
	return body, true
}

func mailtoAddress(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if len(href) < 7 || !strings.EqualFold(href[:7], "mailto:") {
		return "", false
	}
	addr := href[7:]
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	if unescaped, err := url.PathUnescape(addr); err == nil {
		addr = unescaped
	}
	return addr, addr != ""
}

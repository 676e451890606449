package discovery

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Searcher is the search-engine fallback used when a website yields nothing.
type Searcher struct {
	client    *http.Client
	endpoint  string
	userAgent string
	results   int
}

// NewSearcher creates a searcher against an HTML search endpoint that takes
// the query in "q". results caps how many addresses are considered.
func NewSearcher(client *http.Client, endpoint, userAgent string, results int) *Searcher {
	return &Searcher{client: client, endpoint: endpoint, userAgent: userAgent, results: results}
}

// Query builds the search string for a company, optionally domain-scoped.
func Query(company, domain string) string {
	q := `"` + strings.TrimSpace(company) + `" email contact`
	if domain != "" {
		q += " site:" + domain + " OR @" + domain
	}
	return q
}

// Search returns the best address on the results page: one at domain if
// any, otherwise the first usable one. Failures return "".
func (s *Searcher) Search(ctx context.Context, company, domain string) string {
	if s.endpoint == "" || strings.TrimSpace(company) == "" {
		return ""
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return ""
	}
	params := u.Query()
	params.Set("q", Query(company, domain))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return ""
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}

	var candidates []string
	for _, m := range emailPattern.FindAllString(doc.Text(), -1) {
		email := strings.ToLower(m)
		if usable(email) {
			candidates = append(candidates, email)
		}
		if s.results > 0 && len(candidates) >= s.results {
			break
		}
	}

	if domain != "" {
		for _, email := range candidates {
			if strings.HasSuffix(email, "@"+domain) {
				return email
			}
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

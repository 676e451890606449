package signals

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const maxArticleBytes = 4 << 20

// ArticleFetcher pulls full article text via HTTP + readability extraction.
type ArticleFetcher struct {
	client    *http.Client
	userAgent string
}

// NewArticleFetcher creates a fetcher with the given timeout.
func NewArticleFetcher(timeout time.Duration, userAgent string) *ArticleFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ArticleFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: userAgent,
	}
}

// httpError is an HTTP status >= 400. The scanner stops fetching from a
// domain after one of these.
type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}

// Fetch returns the readable text of articleURL. Connection failures and
// pages without enough text return "" and a nil error.
func (f *ArticleFetcher) Fetch(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArticleBytes))
	if err != nil {
		return "", nil
	}

	parsedURL, _ := url.Parse(articleURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > 100 {
		return text, nil
	}
	return "", nil
}

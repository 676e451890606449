package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/outreach/internal/config"
)

func TestPages(t *testing.T) {
	base := Pages("acme.example/", false, "")
	assert.Equal(t, "https://acme.example", base[0])
	assert.Len(t, base, 7)

	deep := Pages("https://acme.example", true, "Grand Rapids")
	assert.Contains(t, deep, "https://acme.example/our-team")
	assert.Contains(t, deep, "https://acme.example/locations/grand-rapids")
	assert.Contains(t, deep, "https://acme.example/grand-rapids-office")

	assert.Nil(t, Pages("", true, "x"))
}

func TestScrapeOrdersMailtoFirstAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<p>Write to hello@acme.example or noreply@acme.example</p>
				<img src="logo@2x.png"><a href="MAILTO:owner%40acme.example">Owner</a>`))
		case "/about":
			w.Write([]byte(`<a href="mailto:hello@acme.example">again</a> jobs@acme.example`))
		case "/team":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`boss@acme.example`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got := NewScraper(srv.Client(), "test-agent").Scrape(context.Background(), srv.URL, false, "")
	assert.Equal(t, []string{"owner@acme.example", "hello@acme.example"}, got)
}

func TestMailtoAddress(t *testing.T) {
	addr, ok := mailtoAddress(" mailto:jane@acme.example?subject=Hi ")
	assert.True(t, ok)
	assert.Equal(t, "jane@acme.example", addr)

	_, ok = mailtoAddress("https://acme.example")
	assert.False(t, ok)
	_, ok = mailtoAddress("mailto:")
	assert.False(t, ok)
}

func TestSearchPrefersDomainMatch(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		w.Write([]byte(`<div class="result">Directory listing: someone@directory.example</div>
			<div class="result">Acme Law: <b>frontdesk@acme.example</b></div>`))
	}))
	defer srv.Close()

	s := NewSearcher(srv.Client(), srv.URL+"/html/", "", 5)
	assert.Equal(t, "frontdesk@acme.example", s.Search(context.Background(), "Acme Law", "acme.example"))
	assert.Equal(t, `"Acme Law" email contact site:acme.example OR @acme.example`, query)

	assert.Equal(t, "someone@directory.example", s.Search(context.Background(), "Acme Law", "other.example"))
}

func TestSearchFailuresReturnEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSearcher(srv.Client(), srv.URL, "", 5)
	assert.Empty(t, s.Search(context.Background(), "Acme Law", "acme.example"))
	assert.Empty(t, NewSearcher(srv.Client(), "", "", 5).Search(context.Background(), "Acme", ""))
}

func TestHunterClientFind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "secret", q.Get("api_key"))
		assert.Equal(t, "acme.example", q.Get("domain"))
		assert.Equal(t, "Jane", q.Get("first_name"))
		assert.Equal(t, "Doe", q.Get("last_name"))
		if q.Get("last_name") == "Doe" {
			w.Write([]byte(`{"data":{"email":"jane@acme.example","score":93,"position":"Partner","linkedin_url":"https://linkedin.example/jane"}}`))
			return
		}
		w.Write([]byte(`{"data":{"email":null}}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_HUNTER_KEY", "secret")
	h := NewHunterClient(config.Finder{APIKeyEnv: "TEST_HUNTER_KEY", BaseURL: srv.URL}, srv.Client())
	require.True(t, h.IsConfigured())

	m, err := h.Find(context.Background(), "acme.example", "Jane", "Doe")
	require.NoError(t, err)
	assert.Equal(t, &FinderMatch{Email: "jane@acme.example", Score: 93, Position: "Partner", LinkedIn: "https://linkedin.example/jane"}, m)
}

func TestHunterClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("domain") == "empty.example" {
			w.Write([]byte(`{"data":{"email":""}}`))
			return
		}
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Setenv("TEST_HUNTER_KEY", "k")
	h := NewHunterClient(config.Finder{APIKeyEnv: "TEST_HUNTER_KEY", BaseURL: srv.URL}, srv.Client())

	_, err := h.Find(context.Background(), "acme.example", "Jane", "Doe")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "401"))

	m, err := h.Find(context.Background(), "empty.example", "Jane", "Doe")
	require.NoError(t, err)
	assert.Nil(t, m)

	t.Setenv("TEST_HUNTER_KEY", "")
	assert.False(t, NewHunterClient(config.Finder{APIKeyEnv: "TEST_HUNTER_KEY", BaseURL: srv.URL}, srv.Client()).IsConfigured())
}

package discovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
)

const testDomain = "acme.example"

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	err   error
	mx    []*net.MX
}

func (r *fakeResolver) LookupMX(_ context.Context, _ string) ([]*net.MX, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.mx, nil
}

// fakeProber answers from a per-address table. Catch-all probes (random
// "zz" locals) get catchAll.
type fakeProber struct {
	mu       sync.Mutex
	results  map[string]ProbeResult
	fallback ProbeResult
	catchAll ProbeResult
	probed   []string
}

func (p *fakeProber) Probe(_ context.Context, _ string, email string) ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isCatchAllProbe(email) {
		return p.catchAll
	}
	p.probed = append(p.probed, email)
	if r, ok := p.results[email]; ok {
		return r
	}
	return p.fallback
}

func (p *fakeProber) Probed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.probed...)
}

func isCatchAllProbe(email string) bool {
	local := email[:strings.Index(email, "@")]
	return strings.HasPrefix(local, "zz") && len(local) == 18
}

type fakeFinder struct {
	match *FinderMatch
	err   error
	calls int
}

func (f *fakeFinder) Find(_ context.Context, _, _, _ string) (*FinderMatch, error) {
	f.calls++
	return f.match, f.err
}

type testEnv struct {
	db       *database.DB
	engine   *Engine
	resolver *fakeResolver
	prober   *fakeProber
	site     *httptest.Server
	clock    *clockwork.FakeClock
}

func newTestEnv(t *testing.T, pages map[string]string, finder Finder) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(body))
	}))
	t.Cleanup(site.Close)

	env := &testEnv{
		db:       db,
		resolver: &fakeResolver{mx: []*net.MX{{Host: "mx2.acme.example.", Pref: 20}, {Host: "mx1.acme.example.", Pref: 10}}},
		prober:   &fakeProber{results: map[string]ProbeResult{}, fallback: Inconclusive, catchAll: Rejected},
		site:     site,
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)),
	}

	cfg := config.Default().Discovery
	cfg.Search.Enabled = false
	cfg.Workers = 2
	env.engine = New(db, cfg, Deps{
		Resolver:   env.resolver,
		Prober:     env.prober,
		HTTPClient: site.Client(),
		Finder:     finder,
		Clock:      env.clock,
	})
	return env
}

func (env *testEnv) addContact(t *testing.T, c database.Contact) int64 {
	t.Helper()
	if c.CompanyName == "" {
		c.CompanyName = "Acme Law"
	}
	if c.Website == "" {
		c.Website = env.site.URL
	}
	if c.Domain == "" {
		c.Domain = testDomain
	}
	id, err := env.db.InsertContact(&c)
	require.NoError(t, err)
	return id
}

func (env *testEnv) contact(t *testing.T, id int64) *database.Contact {
	t.Helper()
	c, err := env.db.GetContact(id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestDiscoverDoesNotGuessPatterns(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsManual, out.Status)
	assert.Empty(t, out.Email)

	c := env.contact(t, id)
	assert.Equal(t, StatusNeedsManual, c.EmailStatus)
	assert.Empty(t, c.DiscoveredEmail)
	assert.Len(t, env.prober.Probed(), 7)
}

func TestDiscoverCatchAllNeverVerifies(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.prober.catchAll = Accepted
	env.prober.fallback = Accepted
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusLikely, out.Status)
	assert.Equal(t, "jane@acme.example", out.Email)
	assert.Equal(t, SourcePattern, out.Source)
}

func TestDiscoverStopsAtFirstAcceptance(t *testing.T) {
	pages := map[string]string{
		"/contact": `<html><body><a href="mailto:Owner@Acme.example?subject=hi">Email</a>
			<p>Press: press@acme.example</p></body></html>`,
	}
	env := newTestEnv(t, pages, nil)
	env.prober.results["owner@acme.example"] = Rejected
	env.prober.results["press@acme.example"] = Accepted
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, out.Status)
	assert.Equal(t, "press@acme.example", out.Email)
	assert.Equal(t, SourceScrape, out.Source)
	assert.Equal(t, []string{"owner@acme.example", "press@acme.example"}, env.prober.Probed())

	c := env.contact(t, id)
	assert.Equal(t, "press@acme.example", c.DiscoveredEmail)
	assert.Equal(t, StatusVerified, c.EmailStatus)
}

func TestDiscoverFallsBackToScrapedAddress(t *testing.T) {
	pages := map[string]string{"/": `<a href="mailto:office@acme.example">Office</a>`}
	env := newTestEnv(t, pages, nil)
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusLikely, out.Status)
	assert.Equal(t, "office@acme.example", out.Email)

	log, err := env.db.GetDiscoveryLog(id)
	require.NoError(t, err)
	var steps []string
	for _, entry := range log {
		steps = append(steps, entry.Step)
	}
	assert.Contains(t, steps, "scraped_fallback")
}

func TestDiscoverNoMXIsInvalid(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.resolver.err = &net.DNSError{Err: "no such host", Name: testDomain, IsNotFound: true}
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, out.Status)
	assert.Empty(t, env.prober.Probed())

	ok, _ := env.engine.ValidateMX(context.Background(), testDomain)
	assert.False(t, ok)
	assert.Equal(t, 1, env.resolver.calls)
}

func TestTransientMXFailureIsNotCached(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.resolver.err = &net.DNSError{Err: "i/o timeout", Name: testDomain, IsTimeout: true}
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsManual, out.Status)

	env.resolver.err = nil
	ok, host := env.engine.ValidateMX(context.Background(), testDomain)
	assert.True(t, ok)
	assert.Equal(t, "mx1.acme.example", host)
	assert.Equal(t, 2, env.resolver.calls)
}

func TestMXCacheExpires(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	env.engine.ValidateMX(ctx, testDomain)
	env.engine.ValidateMX(ctx, testDomain)
	assert.Equal(t, 1, env.resolver.calls)

	env.clock.Advance(7 * time.Hour)
	env.engine.ValidateMX(ctx, testDomain)
	assert.Equal(t, 2, env.resolver.calls)
}

func TestNullMXHasNoMail(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.resolver.mx = []*net.MX{{Host: ".", Pref: 0}}
	ok, _ := env.engine.ValidateMX(context.Background(), testDomain)
	assert.False(t, ok)
}

func TestDiscoverWithoutDomainNeedsManual(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id, err := env.db.InsertContact(&database.Contact{CompanyName: "No Site Co", ContactName: "Jane Doe"})
	require.NoError(t, err)

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsManual, out.Status)
	assert.Zero(t, env.resolver.calls)
}

func TestDiscoverDerivesDomainFromWebsite(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id, err := env.db.InsertContact(&database.Contact{CompanyName: "Acme", Website: "https://www.Acme.example/about"})
	require.NoError(t, err)

	// Cancelled so the scraper never leaves the test process.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = env.engine.Discover(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testDomain, env.contact(t, id).Domain)
}

func TestDiscoverShortCircuitsResolvedContacts(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := env.addContact(t, database.Contact{DiscoveredEmail: "jane@acme.example", EmailStatus: "verified"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, &Outcome{Email: "jane@acme.example", Status: StatusVerified, Source: SourceExisting}, out)
	assert.Zero(t, env.resolver.calls)
}

func TestDiscoverMissingContact(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.engine.Discover(context.Background(), 42)
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestFinderShortCircuitsForTierA(t *testing.T) {
	finder := &fakeFinder{match: &FinderMatch{Email: "Jane@Acme.example", Score: 95, LinkedIn: "https://linkedin.example/jane"}}
	env := newTestEnv(t, nil, finder)
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe", Tier: "A"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, &Outcome{Email: "jane@acme.example", Status: StatusVerified, Source: SourceFinder}, out)
	assert.Empty(t, env.prober.Probed())
	assert.Zero(t, env.resolver.calls)
	assert.Equal(t, "https://linkedin.example/jane", env.contact(t, id).LinkedInURL)
}

func TestFinderScoreBands(t *testing.T) {
	finder := &fakeFinder{match: &FinderMatch{Email: "jane@acme.example", Score: 60}}
	env := newTestEnv(t, nil, finder)
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe", Source: "field_intel"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusLikely, out.Status)

	finder.match.Score = 20
	low := env.addContact(t, database.Contact{ContactName: "John Roe", Tier: "A"})
	out, err = env.engine.Discover(context.Background(), low)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsManual, out.Status)
}

func TestFinderSkipsIneligibleContacts(t *testing.T) {
	finder := &fakeFinder{match: &FinderMatch{Email: "jane@acme.example", Score: 99}}
	env := newTestEnv(t, nil, finder)
	tierB := env.addContact(t, database.Contact{ContactName: "Jane Doe", Tier: "B"})
	noLast := env.addContact(t, database.Contact{ContactName: "Jane", Tier: "A"})

	_, err := env.engine.Discover(context.Background(), tierB)
	require.NoError(t, err)
	_, err = env.engine.Discover(context.Background(), noLast)
	require.NoError(t, err)
	assert.Zero(t, finder.calls)
}

func TestFinderErrorFallsThrough(t *testing.T) {
	finder := &fakeFinder{err: errors.New("quota exceeded")}
	env := newTestEnv(t, nil, finder)
	env.prober.fallback = Accepted
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe", Tier: "A"})

	out, err := env.engine.Discover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, out.Status)
	assert.Equal(t, SourcePattern, out.Source)
}

func TestRediscoverNeverReturnsBouncedAddress(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := env.addContact(t, database.Contact{
		ContactName: "Jane Doe", BouncedEmails: "JANE@acme.example,janedoe@acme.example", EmailStatus: "bounced",
	})

	out, err := env.engine.Rediscover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusLikely, out.Status)
	assert.NotEqual(t, "jane@acme.example", out.Email)
	assert.NotEqual(t, "janedoe@acme.example", out.Email)
	assert.NotContains(t, env.prober.Probed(), "jane@acme.example")
	assert.Equal(t, "pending", env.contact(t, id).OutreachStatus)
}

func TestRediscoverPrefersScrapedInconclusive(t *testing.T) {
	pages := map[string]string{"/our-team": `<p>Reach the partners at partners-desk@acme.example</p>`}
	env := newTestEnv(t, pages, nil)
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Rediscover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "partners-desk@acme.example", out.Email)
	assert.Equal(t, SourceScrape, out.Source)
}

func TestRediscoverAllRejectedIsExhausted(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.prober.fallback = Rejected
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Rediscover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, out.Status)
	assert.Equal(t, StatusExhausted, env.contact(t, id).EmailStatus)
	// Deep patterns include the generic mailboxes.
	assert.Contains(t, env.prober.Probed(), "info@acme.example")
}

func TestRediscoverNoMXIsExhausted(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.resolver.mx = nil
	id := env.addContact(t, database.Contact{ContactName: "Jane Doe"})

	out, err := env.engine.Rediscover(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, out.Status)
}

func TestRecoverBounce(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.prober.results["jane.doe@acme.example"] = Accepted
	id := env.addContact(t, database.Contact{
		ContactName: "Jane Doe", DiscoveredEmail: "jane@acme.example", EmailStatus: "verified", OutreachStatus: "sent",
	})

	out, err := env.engine.RecoverBounce(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, &Outcome{Email: "jane.doe@acme.example", Status: StatusVerified, Source: SourcePattern}, out)

	c := env.contact(t, id)
	assert.Equal(t, 1, c.BounceCount)
	assert.True(t, c.HasBounced("jane@acme.example"))
	assert.Equal(t, "jane.doe@acme.example", c.DiscoveredEmail)
	assert.Equal(t, "pending", c.OutreachStatus)

	_, err = env.engine.RecoverBounce(context.Background(), 999, "x@acme.example")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestDiscoverBatchKeepsSelectionOrder(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.prober.fallback = Accepted
	low := env.addContact(t, database.Contact{ContactName: "Low Priority", PriorityScore: 10})
	high := env.addContact(t, database.Contact{ContactName: "High Priority", PriorityScore: 90})
	mid := env.addContact(t, database.Contact{ContactName: "Mid Priority", PriorityScore: 50})
	env.addContact(t, database.Contact{ContactName: "Done Already", EmailStatus: "verified"})

	results, err := env.engine.DiscoverBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []int64{high, mid, low}, []int64{results[0].ContactID, results[1].ContactID, results[2].ContactID})
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, StatusVerified, r.Outcome.Status)
	}
	assert.Equal(t, "high@acme.example", results[0].Outcome.Email)
}

func TestDiscoverBatchCancelled(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.addContact(t, database.Contact{ContactName: "Jane Doe"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := env.engine.DiscoverBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

type countingLimiter struct {
	allow bool
	calls int
}

func (l *countingLimiter) Acquire(_ context.Context, _ string) bool {
	l.calls++
	return l.allow
}

func TestLimitedProberDegradesToInconclusive(t *testing.T) {
	inner := &fakeProber{fallback: Accepted}
	limiter := &countingLimiter{}
	p := NewLimitedProber(inner, limiter)

	assert.Equal(t, Inconclusive, p.Probe(context.Background(), "mx", "jane@acme.example"))
	assert.Empty(t, inner.Probed())

	limiter.allow = true
	assert.Equal(t, Accepted, p.Probe(context.Background(), "mx", "jane@acme.example"))
	assert.Equal(t, 2, limiter.calls)
}
